package nn

import "math"

func ReLU(xs []float64) []float64 {
	for i, x := range xs {
		if x < 0 {
			xs[i] = 0
		}
	}
	return xs
}

// ReLUGrad zeroes dy wherever the activation output was not positive.
func ReLUGrad(out, dy []float64) []float64 {
	for i := range dy {
		if out[i] <= 0 {
			dy[i] = 0
		}
	}
	return dy
}

func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Softmax is computed with max subtraction. Non-finite logits are treated as 0
// so the result is always a distribution.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	clean := Sanitize(append([]float64(nil), logits...))
	m := clean[0]
	for _, v := range clean[1:] {
		m = math.Max(m, v)
	}
	sum := 0.0
	for i, v := range clean {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sanitize replaces NaN and ±Inf with 0 in place.
func Sanitize(xs []float64) []float64 {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			xs[i] = 0
		}
	}
	return xs
}
