package service

import "OmniSpectrum/internal/domain/models"

// TemporalEncoder embeds a return/volatility sequence.
type TemporalEncoder interface {
	Encode(w *models.TemporalWindow) models.TemporalEmbedding
}

// SurfaceEncoder embeds the return grid.
type SurfaceEncoder interface {
	Encode(g *models.SurfaceGrid) models.SurfaceEmbedding
}

// GeometryEncoder embeds the price-path angle vector.
type GeometryEncoder interface {
	Encode(v *models.GeometryVector) models.GeometryEmbedding
}

// DirectionClassifier maps a fused vector to a bear/neutral/bull distribution
// that always sums to 1.
type DirectionClassifier interface {
	Predict(v *models.FusedVector) models.Tilt
}

// ExpansionEstimator returns the probability of near-term volatility expansion.
type ExpansionEstimator interface {
	Probability(v *models.FusedVector) float64
}
