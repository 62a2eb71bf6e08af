package embedding

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/nn"
)

func newEncoders(seed uint64) *Encoders {
	return &Encoders{
		Temporal: NewTemporalEncoder(nn.NewRand(seed, 1)),
		Surface:  NewSurfaceEncoder(nn.NewRand(seed, 2)),
		Geometry: NewGeometryAutoencoder(nn.NewRand(seed, 3)),
	}
}

func sampleInputs() (models.TemporalWindow, models.SurfaceGrid, models.GeometryVector) {
	var tw models.TemporalWindow
	var sg models.SurfaceGrid
	var gv models.GeometryVector
	for i := range tw {
		tw[i] = [4]float64{0.001 * float64(i%5), 0.12, 0.15, 0.003}
	}
	for i := range sg {
		for j := range sg[i] {
			sg[i][j] = 0.01 * float64(i-j)
		}
	}
	for i := range gv {
		gv[i] = math.Atan2(float64(i%4)-1.5, 1)
	}
	return tw, sg, gv
}

func TestEncodersAreDeterministicForSeed(t *testing.T) {
	tw, sg, gv := sampleInputs()
	a, b := newEncoders(42), newEncoders(42)

	assert.Equal(t, a.Temporal.Encode(&tw), b.Temporal.Encode(&tw))
	assert.Equal(t, a.Surface.Encode(&sg), b.Surface.Encode(&sg))
	assert.Equal(t, a.Geometry.Encode(&gv), b.Geometry.Encode(&gv))
	assert.NotEqual(t, a.Temporal.Encode(&tw), newEncoders(7).Temporal.Encode(&tw))
}

func TestSaveAndLoadEncoders(t *testing.T) {
	dir := t.TempDir()
	tw, sg, gv := sampleInputs()
	enc := newEncoders(42)
	require.NoError(t, enc.Save(dir))

	loaded, err := LoadEncoders(dir)
	require.NoError(t, err)
	assert.Equal(t, enc.Temporal.Encode(&tw), loaded.Temporal.Encode(&tw))
	assert.Equal(t, enc.Surface.Encode(&sg), loaded.Surface.Encode(&sg))
	assert.Equal(t, enc.Geometry.Encode(&gv), loaded.Geometry.Encode(&gv))
}

func TestLoadEncodersReportsModelLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadEncoders(dir)
	assert.ErrorIs(t, err, models.ErrModelLoad)

	require.NoError(t, newEncoders(1).Save(dir))
	a := nn.NewArtifact(SurfaceKind)
	nn.NewDense(nn.NewRand(1, 1), 3, 3).Save(a, "fc")
	require.NoError(t, nn.WriteArtifact(filepath.Join(dir, SurfaceFile), a))
	_, err = LoadEncoders(dir)
	assert.ErrorIs(t, err, models.ErrModelLoad)

	require.NoError(t, os.WriteFile(filepath.Join(dir, SurfaceFile), []byte("{"), 0o644))
	_, err = LoadEncoders(dir)
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

func TestEncodeZeroHistoryIsFinite(t *testing.T) {
	enc := newEncoders(3)
	var tw models.TemporalWindow
	var sg models.SurfaceGrid
	var gv models.GeometryVector
	for _, v := range enc.Temporal.Encode(&tw) {
		assert.False(t, math.IsNaN(v))
	}
	for _, v := range enc.Surface.Encode(&sg) {
		assert.False(t, math.IsNaN(v))
	}
	for _, v := range enc.Geometry.Encode(&gv) {
		assert.False(t, math.IsNaN(v))
	}
}

func TestAutoencoderFitReducesReconstructionError(t *testing.T) {
	rng := nn.NewRand(11, 0)
	vs := make([]models.GeometryVector, 64)
	for i := range vs {
		for k := range vs[i] {
			vs[i][k] = math.Atan2(math.Sin(float64(i+k)/3), 1)
		}
	}
	ae := NewGeometryAutoencoder(nn.NewRand(11, 3))
	before := ae.ReconstructionError(vs)

	epochs := 0
	ae.Fit(vs, AutoencoderTraining{Epochs: 30, BatchSize: 8, LearningRate: 0.05,
		OnEpoch: func(int, float64) { epochs++ }}, rng)

	assert.Equal(t, 30, epochs)
	assert.Less(t, ae.ReconstructionError(vs), before)
}
