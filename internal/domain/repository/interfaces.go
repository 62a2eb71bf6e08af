package repository

import (
	"context"
	"time"

	"OmniSpectrum/internal/domain/models"
)

// SnapshotSource yields the current normalized cache document.
type SnapshotSource interface {
	Load(ctx context.Context) (*models.MarketSnapshot, error)
}

// ForecastSink receives every finished forecast document.
type ForecastSink interface {
	Write(ctx context.Context, runID string, out *models.ForecastOutput) error
	Close() error
}

// LatestForecastReader returns the most recently stored document.
type LatestForecastReader interface {
	Latest(ctx context.Context) (*models.ForecastOutput, error)
}

// ForecastHistory stores and lists past forecasts.
type ForecastHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]models.ForecastRecord, error)
}

type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	RecordForecast(direction models.Label)
	RecordError(kind string)
}
