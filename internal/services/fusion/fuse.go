package fusion

import "OmniSpectrum/internal/domain/models"

// Fuse concatenates the branch outputs in the fixed order shared by training
// and inference. No scaling is applied here.
func Fuse(t models.TemporalEmbedding, s models.SurfaceEmbedding, g models.GeometryEmbedding, sc models.ScalarFeatures) models.FusedVector {
	var v models.FusedVector
	n := copy(v[:], t[:])
	n += copy(v[n:], s[:])
	n += copy(v[n:], g[:])
	copy(v[n:], sc[:])
	return v
}
