package nn

import (
	"math"
	"math/rand/v2"
)

// NewRand returns a deterministic PCG source. stream separates the draws of
// different models trained from the same seed.
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// Uniform fills n values from U(-bound, bound).
func Uniform(rng *rand.Rand, n int, bound float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = (2*rng.Float64() - 1) * bound
	}
	return out
}

// FanInBound is the 1/sqrt(fanIn) bound used for layer initialization.
func FanInBound(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}
