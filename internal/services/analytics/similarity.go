package analytics

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"OmniSpectrum/internal/domain/models"
)

// PatternMatchCount is the length of the historical similarity list.
const PatternMatchCount = 20

// PatternMatchIndex is the inverse norm of the current geometry latent.
func PatternMatchIndex(z models.GeometryEmbedding) float64 {
	return 1 / (floats.Norm(z[:], 2) + models.Epsilon)
}

// PatternMatches scores each historical latent against current by cosine
// similarity mapped to [0, 1] via (1+cos)/2 and returns the best k scores in
// descending order. Zero-norm latents are skipped.
//
// The result always has length k. When fewer than k latents were scored the
// tail is filled with 0, which on this scale is also the score of an exactly
// opposite pattern: a padded slot means "no neighbour", not "dissimilar". Use
// ScoredMatches for the number of leading slots that hold real scores.
func PatternMatches(current models.GeometryEmbedding, history []models.GeometryEmbedding, k int) []float64 {
	out := make([]float64, k)
	cn := floats.Norm(current[:], 2)
	if cn == 0 {
		return out
	}

	scores := make([]float64, 0, len(history))
	for i := range history {
		hn := floats.Norm(history[i][:], 2)
		if hn == 0 {
			continue
		}
		cos := floats.Dot(current[:], history[i][:]) / (cn * hn)
		cos = min(1, max(-1, cos))
		scores = append(scores, (1+cos)/2)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	copy(out, scores)
	return out
}

// ScoredMatches reports how many leading entries of PatternMatches(current,
// history, k) are real scores rather than padding.
func ScoredMatches(current models.GeometryEmbedding, history []models.GeometryEmbedding, k int) int {
	if floats.Norm(current[:], 2) == 0 {
		return 0
	}
	n := 0
	for i := range history {
		if floats.Norm(history[i][:], 2) != 0 {
			n++
		}
	}
	return min(n, k)
}
