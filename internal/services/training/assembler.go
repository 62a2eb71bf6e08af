package training

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/features"
	"OmniSpectrum/internal/services/fusion"
)

// AssembleDataset builds one sample per index in [TemporalLookback,
// len-LabelHorizon). Every window looks backward from the index; only the
// label reads the following LabelHorizon returns.
func AssembleDataset(t *models.FeatureTable) []models.SampleWindows {
	n := t.Len()
	count := max(0, n-models.TemporalLookback-models.LabelHorizon)
	out := make([]models.SampleWindows, 0, count)

	forward := make([]float64, models.LabelHorizon)
	for idx := models.TemporalLookback; idx < n-models.LabelHorizon; idx++ {
		w := features.BuildWindows(t, idx)
		for k := range forward {
			forward[k] = t.Rows[idx+1+k].Return
		}
		w.Label = ForwardLabel(forward)
		w.LabelHorizon = idx + models.LabelHorizon
		out = append(out, w)
	}
	return out
}

// ForwardLabel classifies the mean forward return against ±LabelThreshold.
// Both comparisons are strict so a mean of exactly ±0.5% is neutral.
func ForwardLabel(forward []float64) models.Label {
	if len(forward) == 0 {
		return models.LabelNeutral
	}
	mean := stat.Mean(forward, nil)
	switch {
	case mean > models.LabelThreshold:
		return models.LabelBull
	case mean < -models.LabelThreshold:
		return models.LabelBear
	default:
		return models.LabelNeutral
	}
}

// ExpansionLabel is true when the population volatility of the last three
// returns in the window exceeds that of the whole window.
func ExpansionLabel(w *models.TemporalWindow) bool {
	returns := make([]float64, len(w))
	for i := range w {
		returns[i] = w[i][0]
	}
	annual := math.Sqrt(models.TradingDays)
	recent := popStd(returns[len(returns)-3:]) * annual
	overall := popStd(returns) * annual
	return recent > overall+models.Epsilon
}

func popStd(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	return math.Sqrt(math.Max(0, stat.Variance(xs, nil)*(n-1)/n))
}

// ValidationFraction is min(0.2, max(0.1, 1/n)).
func ValidationFraction(n int) float64 {
	if n <= 0 {
		return 0.2
	}
	return math.Min(0.2, math.Max(0.1, 1/float64(n)))
}

// SplitIndices shuffles 0..n-1 with seed and holds out ceil(fraction*n)
// indices for validation, keeping at least one on each side.
func SplitIndices(n int, seed uint64) (train, val []int, err error) {
	if n < 2 {
		return nil, nil, models.NewError("split dataset", models.ErrInsufficientHistory,
			"%d samples, need at least 2", n)
	}
	nVal := int(math.Ceil(ValidationFraction(n) * float64(n)))
	nVal = min(max(nVal, 1), n-1)

	perm := rand.New(rand.NewPCG(seed, 0)).Perm(n)
	return perm[nVal:], perm[:nVal], nil
}

// Branches holds per-sample encoder outputs produced during training.
type Branches struct {
	Temporal []models.TemporalEmbedding
	Surface  []models.SurfaceEmbedding
	Geometry []models.GeometryEmbedding
	Windows  []models.SampleWindows
}

// Fuse joins the branches into samples. When branch lengths disagree every
// branch is trimmed to the shortest and the samples are returned together with
// a non-fatal ErrDatasetAssemblyMismatch.
func (b *Branches) Fuse() ([]models.Sample, error) {
	n := min(len(b.Temporal), len(b.Surface), len(b.Geometry), len(b.Windows))
	var err error
	if n != len(b.Temporal) || n != len(b.Surface) || n != len(b.Geometry) || n != len(b.Windows) {
		err = models.NewError("fuse branches", models.ErrDatasetAssemblyMismatch,
			"temporal=%d surface=%d geometry=%d windows=%d, trimmed to %d",
			len(b.Temporal), len(b.Surface), len(b.Geometry), len(b.Windows), n)
	}

	out := make([]models.Sample, n)
	for i := 0; i < n; i++ {
		out[i] = models.Sample{
			Fused: fusion.Fuse(b.Temporal[i], b.Surface[i], b.Geometry[i], b.Windows[i].Scalars),
			Label: b.Windows[i].Label,
		}
	}
	return out, err
}
