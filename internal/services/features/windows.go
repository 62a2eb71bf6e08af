package features

import (
	"math"

	"OmniSpectrum/internal/domain/models"
)

const surfaceCells = models.GridSize * models.GridSize * models.GridSize

// Default lookbacks for the window builders.
const (
	DefaultTemporalWindow = models.TemporalLookback
	DefaultSurfaceWindow  = models.SurfaceLookback
	DefaultGeometryWindow = models.GeometryLookback
)

// lookback resolves a requested window length: non-positive means def, and
// the result never exceeds limit, the capacity of the output array.
func lookback(w, def, limit int) int {
	if w <= 0 {
		w = def
	}
	return min(w, limit)
}

// span returns the inclusive row range [start, end] of at most w rows ending at
// end, or ok=false when end is outside the table.
func span(t *models.FeatureTable, end, w int) (start int, ok bool) {
	if end < 0 || end >= t.Len() {
		return 0, false
	}
	return max(0, end-w+1), true
}

// BuildTemporalWindow stacks [return, rv_10, rv_20, ema_slope] for the window
// rows ending at end. Short histories are zero-padded at the top so the newest
// row is always last.
func BuildTemporalWindow(t *models.FeatureTable, end, window int) models.TemporalWindow {
	var w models.TemporalWindow
	start, ok := span(t, end, lookback(window, DefaultTemporalWindow, models.TemporalLookback))
	if !ok {
		return w
	}
	offset := models.TemporalLookback - (end - start + 1)
	for i := start; i <= end; i++ {
		r := t.Rows[i]
		w[offset+i-start] = [models.TemporalFeatures]float64{r.Return, r.RV10, r.RV20, r.EMASlope}
	}
	return w
}

// BuildSurfaceGrid flattens [return, range] pairs of the window rows ending at
// end into an 8x8x8 cube (zero-padded) and keeps channel 0.
func BuildSurfaceGrid(t *models.FeatureTable, end, window int) models.SurfaceGrid {
	var g models.SurfaceGrid
	start, ok := span(t, end, lookback(window, DefaultSurfaceWindow, surfaceCells/2))
	if !ok {
		return g
	}

	var flat [surfaceCells]float64
	k := 0
	for i := start; i <= end && k+1 < surfaceCells; i++ {
		flat[k] = t.Rows[i].Return
		flat[k+1] = t.Rows[i].Range
		k += 2
	}

	for i := 0; i < models.GridSize; i++ {
		for j := 0; j < models.GridSize; j++ {
			g[i][j] = flat[i*models.GridSize*models.GridSize+j*models.GridSize]
		}
	}
	return g
}

// BuildGeometryVector returns atan2(diff(close), 1) over the window closes
// ending at end, left aligned and zero-padded.
func BuildGeometryVector(t *models.FeatureTable, end, window int) models.GeometryVector {
	var v models.GeometryVector
	start, ok := span(t, end, lookback(window, DefaultGeometryWindow, models.GeometryLookback))
	if !ok {
		return v
	}
	for i := start + 1; i <= end; i++ {
		v[i-start-1] = math.Atan2(t.Rows[i].Close-t.Rows[i-1].Close, 1)
	}
	return v
}

// BuildScalarFeatures reads the scalar block at row end.
func BuildScalarFeatures(t *models.FeatureTable, end int) models.ScalarFeatures {
	var s models.ScalarFeatures
	if end < 0 || end >= t.Len() {
		return s
	}
	r := t.Rows[end]
	s[models.ScalarClose] = r.Close
	s[models.ScalarRV10] = r.RV10
	s[models.ScalarRV20] = r.RV20
	s[models.ScalarRange10] = r.Range10
	s[models.ScalarEMASlope] = r.EMASlope
	s[models.ScalarReturnZ20] = r.ReturnZ20
	return s
}

// BuildWindows assembles every model input at row end with the default
// lookbacks.
func BuildWindows(t *models.FeatureTable, end int) models.SampleWindows {
	return models.SampleWindows{
		Index:    end,
		Temporal: BuildTemporalWindow(t, end, DefaultTemporalWindow),
		Surface:  BuildSurfaceGrid(t, end, DefaultSurfaceWindow),
		Geometry: BuildGeometryVector(t, end, DefaultGeometryWindow),
		Scalars:  BuildScalarFeatures(t, end),
	}
}
