package service

import (
	"errors"

	"OmniSpectrum/internal/domain/models"
)

// ModelBundle holds every frozen model needed for one inference run. It is
// loaded once and shared read-only; Expansion and Manifest may be nil.
type ModelBundle struct {
	Temporal  TemporalEncoder
	Surface   SurfaceEncoder
	Geometry  GeometryEncoder
	Direction DirectionClassifier
	Expansion ExpansionEstimator
	Manifest  *models.ModelManifest
}

func (b *ModelBundle) Validate() error {
	if b == nil || b.Temporal == nil || b.Surface == nil || b.Geometry == nil || b.Direction == nil {
		return models.WrapError("validate bundle", models.ErrModelLoad, errors.New("required model missing"))
	}
	return nil
}

func (b *ModelBundle) HasExpansion() bool {
	return b.Expansion != nil
}

// ModelVersion is the manifest version, or "" when no manifest was loaded.
func (b *ModelBundle) ModelVersion() string {
	if b.Manifest == nil {
		return ""
	}
	return b.Manifest.Version
}
