package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"OmniSpectrum/internal/domain/models"
)

// PctChange returns simple returns with the first element fixed at 0. A zero
// previous close also yields 0.
func PctChange(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		out[i] = closes[i]/prev - 1
	}
	return out
}

// RollingStd is the trailing sample standard deviation (n-1) over w values.
// Positions without a full window are NaN.
func RollingStd(xs []float64, w int) []float64 {
	out := nanSlice(len(xs))
	if w < 2 {
		return out
	}
	for i := w - 1; i < len(xs); i++ {
		out[i] = sampleStd(xs[i-w+1 : i+1])
	}
	return out
}

// RollingMean is the trailing arithmetic mean over w values.
func RollingMean(xs []float64, w int) []float64 {
	out := nanSlice(len(xs))
	if w < 1 {
		return out
	}
	for i := w - 1; i < len(xs); i++ {
		out[i] = stat.Mean(xs[i-w+1:i+1], nil)
	}
	return out
}

// EMA is the recursive exponential moving average seeded with the first value,
// alpha = 2/(span+1).
func EMA(xs []float64, span int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RealizedVolatility annualizes the rolling sample deviation of returns.
func RealizedVolatility(returns []float64, w int) []float64 {
	out := RollingStd(returns, w)
	scale := math.Sqrt(models.TradingDays)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// ZScore of each value against its trailing w-window mean and sample deviation.
func ZScore(xs []float64, w int) []float64 {
	out := nanSlice(len(xs))
	if w < 2 {
		return out
	}
	for i := w - 1; i < len(xs); i++ {
		window := xs[i-w+1 : i+1]
		out[i] = (xs[i] - stat.Mean(window, nil)) / (sampleStd(window) + models.Epsilon)
	}
	return out
}

// sampleStd clamps tiny negative variances from cancellation to zero.
func sampleStd(xs []float64) float64 {
	return math.Sqrt(math.Max(0, stat.Variance(xs, nil)))
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
