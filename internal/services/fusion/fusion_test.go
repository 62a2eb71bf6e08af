package fusion

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

func TestFuseOrder(t *testing.T) {
	var te models.TemporalEmbedding
	var se models.SurfaceEmbedding
	var ge models.GeometryEmbedding
	te[0], te[31] = 1, 2
	se[0], se[31] = 3, 4
	ge[0], ge[15] = 5, 6
	sc := models.ScalarFeatures{7, 8, 9, 10, 11, 12}

	v := Fuse(te, se, ge, sc)
	require.Len(t, v, 86)
	assert.Equal(t, 1.0, v[0])
	assert.Equal(t, 2.0, v[31])
	assert.Equal(t, 3.0, v[32])
	assert.Equal(t, 4.0, v[63])
	assert.Equal(t, 5.0, v[64])
	assert.Equal(t, 6.0, v[79])
	assert.Equal(t, []float64{7, 8, 9, 10, 11, 12}, v[models.ScalarOffset:])
	assert.Equal(t, 11.0, v[models.ScalarOffset+models.ScalarEMASlope])
}

func TestPredictAlwaysDistribution(t *testing.T) {
	c := NewClassifier(nn.NewRand(42, 4))

	var v models.FusedVector
	for i := range v {
		v[i] = float64(i) * 1e3
	}
	v[3] = math.NaN()
	v[9] = math.Inf(-1)

	tilt := c.Predict(&v)
	assert.InDelta(t, 1.0, tilt.Sum(), 1e-9)
	for _, p := range []float64{tilt.Bear, tilt.Neutral, tilt.Bull} {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.False(t, math.IsNaN(p))
	}
}

func separableSamples(n int, seed uint64) []models.Sample {
	rng := nn.NewRand(seed, 99)
	out := make([]models.Sample, n)
	for i := range out {
		for j := range out[i].Fused {
			out[i].Fused[j] = rng.NormFloat64()
		}
		out[i].Label = models.LabelBear
		if out[i].Fused[84] > 0 {
			out[i].Label = models.LabelBull
		}
	}
	return out
}

func TestClassifierFitLearnsSeparableSignal(t *testing.T) {
	samples := separableSamples(200, 1)
	c := NewClassifier(nn.NewRand(42, 4))

	var losses []float64
	c.Fit(samples, ClassifierTraining{Epochs: 60, BatchSize: 16, LearningRate: 0.1,
		OnEpoch: func(_ int, l float64) { losses = append(losses, l) }}, nn.NewRand(42, 5))

	require.Len(t, losses, 60)
	assert.Less(t, losses[59], losses[0])
	assert.Greater(t, c.Accuracy(samples), 0.85)
}

func TestClassifierSaveLoad(t *testing.T) {
	dir := t.TempDir()
	c := NewClassifier(nn.NewRand(42, 4))
	c.Fit(separableSamples(40, 2), ClassifierTraining{Epochs: 2, BatchSize: 8, LearningRate: 0.05}, nn.NewRand(1, 1))
	require.NoError(t, c.Save(dir))

	loaded, err := LoadClassifier(dir)
	require.NoError(t, err)
	v := separableSamples(1, 3)[0].Fused
	assert.Equal(t, c.Predict(&v), loaded.Predict(&v))

	_, err = LoadClassifier(t.TempDir())
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

func thresholdData(n int) ([][]float64, []bool) {
	rng := nn.NewRand(5, 5)
	xs := make([][]float64, n)
	ys := make([]bool, n)
	for i := range xs {
		xs[i] = make([]float64, models.FusedDim)
		for j := range xs[i] {
			xs[i][j] = rng.Float64()
		}
		ys[i] = xs[i][0] > 0.5
	}
	return xs, ys
}

func TestBoosterLearnsThreshold(t *testing.T) {
	xs, ys := thresholdData(400)
	b, err := FitBooster(xs, ys, BoosterTraining{Rounds: 50, MaxDepth: 3, LearningRate: 0.1, MinLeaf: 5, Bins: 32, Lambda: 1})
	require.NoError(t, err)
	require.Len(t, b.Trees, 50)

	var hi, lo models.FusedVector
	for i := range hi {
		hi[i], lo[i] = 0.5, 0.5
	}
	hi[0], lo[0] = 0.9, 0.1
	assert.Greater(t, b.Probability(&hi), 0.8)
	assert.Less(t, b.Probability(&lo), 0.2)
}

func TestBoosterSingleClassBaseRate(t *testing.T) {
	xs, _ := thresholdData(50)
	ys := make([]bool, 50)
	b, err := FitBooster(xs, ys, BoosterTraining{Rounds: 5, MaxDepth: 3, LearningRate: 0.1, MinLeaf: 5, Bins: 32})
	require.NoError(t, err)

	var v models.FusedVector
	assert.Less(t, b.Probability(&v), 0.01)
}

func TestLoadBoosterIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadBooster(dir)
	assert.ErrorIs(t, err, models.ErrExpansionModelUnavailable)
	assert.False(t, models.IsFatal(err))

	xs, ys := thresholdData(100)
	b, err := FitBooster(xs, ys, BoosterTraining{Rounds: 10, MaxDepth: 2, LearningRate: 0.1, MinLeaf: 5, Bins: 16})
	require.NoError(t, err)
	require.NoError(t, b.Save(dir))

	loaded, err := LoadBooster(dir)
	require.NoError(t, err)
	var v models.FusedVector
	v[0] = 0.7
	assert.Equal(t, b.Probability(&v), loaded.Probability(&v))

	bad := `{"kind":"expansion_gbm","version":1,"features":86,"trees":[[{"f":0,"l":0,"r":0}]]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ExpansionFile), []byte(bad), 0o644))
	_, err = LoadBooster(dir)
	assert.ErrorIs(t, err, models.ErrExpansionModelUnavailable)
}
