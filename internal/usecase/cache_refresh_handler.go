package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/pkg/logger"
	pkgkafka "OmniSpectrum/pkg/kafka"
)

// CacheUpdatedHandler consumes cache update notifications and refreshes the
// forecast.
type CacheUpdatedHandler struct {
	topic   string
	symbol  string
	refresh *RefreshUseCase
	log     *logger.Logger
}

func NewCacheUpdatedHandler(topic, symbol string, refresh *RefreshUseCase, l *logger.Logger) *CacheUpdatedHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &CacheUpdatedHandler{topic: topic, symbol: symbol, refresh: refresh, log: l}
}

func (h *CacheUpdatedHandler) Topic() string { return h.topic }

// incoming message schema: {symbol?, timestamp?, source?}
func (h *CacheUpdatedHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol    string `json:"symbol"`
		Timestamp string `json:"timestamp"`
		Source    string `json:"source"`
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &m); err != nil {
			// malformed notifications are dropped, retrying cannot fix them
			h.log.Warn("cache notification ignored", logger.Error(err))
			return nil
		}
	}
	if m.Symbol != "" && !strings.EqualFold(m.Symbol, h.symbol) {
		return nil
	}

	res, err := h.refresh.Refresh(ctx)
	if err != nil {
		if retryable(err) {
			return err
		}
		h.log.Warn("cache notification did not produce a forecast",
			logger.String("source", m.Source),
			logger.Error(err),
		)
		return nil
	}
	if !res.Fresh && !errors.Is(res.Cause, ErrRefreshInProgress) {
		if retryable(res.Cause) {
			return res.Cause
		}
		h.log.Warn("forecast not refreshed", logger.String("source", m.Source), logger.Error(res.Cause))
	}
	return nil
}

// retryable reports whether a later attempt may succeed. Bad documents and
// short histories stay bad until the next cache update.
func retryable(err error) bool {
	return !errors.Is(err, models.ErrCacheInvalid) &&
		!errors.Is(err, models.ErrInsufficientHistory) &&
		!errors.Is(err, models.ErrModelLoad)
}

var _ pkgkafka.MessageHandler = (*CacheUpdatedHandler)(nil)
