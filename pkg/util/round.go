package util

import "math"

// Round rounds half away from zero to the given number of decimal places.
func Round(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// RoundAll rounds every element in place and returns xs.
func RoundAll(xs []float64, places int) []float64 {
	for i := range xs {
		xs[i] = Round(xs[i], places)
	}
	return xs
}
