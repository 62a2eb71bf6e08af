package embedding

import (
	"path/filepath"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
)

// Artifact file names inside a model directory.
const (
	TemporalFile = "temporal_lstm.json"
	SurfaceFile  = "surface_cnn.json"
	GeometryFile = "geometry_ae.json"
)

// Encoders groups the three frozen branch models.
type Encoders struct {
	Temporal *TemporalEncoder
	Surface  *SurfaceEncoder
	Geometry *GeometryAutoencoder
}

// LoadEncoders reads all three encoders from dir. Any missing or malformed
// artifact is reported as models.ErrModelLoad.
func LoadEncoders(dir string) (*Encoders, error) {
	var enc Encoders
	var err error

	if enc.Temporal, err = load(dir, TemporalFile, TemporalKind, temporalFromArtifact); err != nil {
		return nil, err
	}
	if enc.Surface, err = load(dir, SurfaceFile, SurfaceKind, surfaceFromArtifact); err != nil {
		return nil, err
	}
	if enc.Geometry, err = load(dir, GeometryFile, GeometryKind, geometryFromArtifact); err != nil {
		return nil, err
	}
	return &enc, nil
}

// Save writes all three artifacts into dir.
func (e *Encoders) Save(dir string) error {
	for file, a := range map[string]*nn.Artifact{
		TemporalFile: e.Temporal.Artifact(),
		SurfaceFile:  e.Surface.Artifact(),
		GeometryFile: e.Geometry.Artifact(),
	} {
		if err := nn.WriteArtifact(filepath.Join(dir, file), a); err != nil {
			return err
		}
	}
	return nil
}

func load[T any](dir, file, kind string, build func(*nn.Artifact) (T, error)) (T, error) {
	var zero T
	a, err := nn.ReadArtifact(filepath.Join(dir, file), kind)
	if err != nil {
		return zero, models.WrapError("load "+file, models.ErrModelLoad, err)
	}
	m, err := build(a)
	if err != nil {
		return zero, models.WrapError("load "+file, models.ErrModelLoad, err)
	}
	return m, nil
}
