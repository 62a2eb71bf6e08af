package repository

import (
	"context"

	"OmniSpectrum/internal/domain/models"
)

// CandleStore provides read-only access to stored daily bars.
type CandleStore interface {
	LatestBars(ctx context.Context, symbol string, n int) ([]models.Bar, error)
}
