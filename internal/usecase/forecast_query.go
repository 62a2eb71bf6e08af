package usecase

import (
	"context"
	"errors"
	"fmt"

	"OmniSpectrum/internal/domain/models"
	domrepo "OmniSpectrum/internal/domain/repository"
)

var ErrHistoryUnavailable = errors.New("forecast history not configured")

// ForecastQueryUseCase serves stored forecasts without running the pipeline.
type ForecastQueryUseCase struct {
	readers []domrepo.LatestForecastReader
	history domrepo.ForecastHistory
	symbol  string
}

// NewForecastQueryUseCase tries readers in order for the latest document.
// history may be nil.
func NewForecastQueryUseCase(symbol string, history domrepo.ForecastHistory, readers ...domrepo.LatestForecastReader) *ForecastQueryUseCase {
	return &ForecastQueryUseCase{readers: readers, history: history, symbol: symbol}
}

func (uc *ForecastQueryUseCase) Latest(ctx context.Context) (*models.ForecastOutput, error) {
	var errs []error
	for _, r := range uc.readers {
		out, err := r.Latest(ctx)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
	}
	return nil, models.WrapError("latest forecast", models.ErrNoForecast, errors.Join(errs...))
}

// Bounds for HistoryParams.Limit.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

type HistoryParams struct {
	Limit int
}

type HistoryResult struct {
	Symbol  string                  `json:"symbol"`
	Count   int                     `json:"count"`
	Records []models.ForecastRecord `json:"records"`
}

func (uc *ForecastQueryUseCase) History(ctx context.Context, p HistoryParams) (*HistoryResult, error) {
	if uc.history == nil {
		return nil, ErrHistoryUnavailable
	}
	if p.Limit <= 0 {
		p.Limit = DefaultHistoryLimit
	}
	p.Limit = min(p.Limit, MaxHistoryLimit)

	recs, err := uc.history.Recent(ctx, uc.symbol, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("recent forecasts: %w", err)
	}
	return &HistoryResult{
		Symbol:  uc.symbol,
		Count:   len(recs),
		Records: recs,
	}, nil
}
