package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
)

func TestExpectedMove(t *testing.T) {
	assert.InDelta(t, 5.7735, ExpectedMove(100, 0.2, 21), 1e-3)
	assert.InDelta(t, 100*0.2/math.Sqrt(252), ExpectedMove(100, 0.2, 1), 1e-12)
	assert.Equal(t, 0.0, ExpectedMove(100, 0, 5))
	assert.Equal(t, 0.0, ExpectedMove(100, 0.2, 0))

	assert.Equal(t, 0.0, ExpectedMove(0, 0.2, 5))
	assert.InDelta(t, -ExpectedMove(100, 0.2, 21), ExpectedMove(-100, 0.2, 21), 1e-12,
		"close enters the closed form unguarded")
}

func TestSelectSigma(t *testing.T) {
	assert.Equal(t, 0.25, SelectSigma(0.25, 0.1))
	assert.Equal(t, 0.1, SelectSigma(0, 0.1))
	assert.Equal(t, 0.0, SelectSigma(0, -1))
}

func TestMovesScaleWithSqrtHorizon(t *testing.T) {
	m := Moves(20000, 0.15)
	assert.InDelta(t, m.Tomorrow*math.Sqrt(5), m.Week, 1e-9)
	assert.InDelta(t, m.Tomorrow*math.Sqrt(21), m.Month, 1e-9)
	assert.Less(t, m.Week, m.NextWeek)

	env := Envelope(20000, m.Week)
	assert.InDelta(t, 20000, (env[0]+env[1])/2, 1e-9)
}

func TestPatternMatches(t *testing.T) {
	var cur, same, opposite, orth, zero models.GeometryEmbedding
	cur[0], same[0], opposite[0], orth[1] = 1, 2, -1, 1

	got := PatternMatches(cur, []models.GeometryEmbedding{orth, opposite, zero, same}, PatternMatchCount)
	require.Len(t, got, PatternMatchCount)
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.InDelta(t, 0.5, got[1], 1e-12)
	assert.InDelta(t, 0.0, got[2], 1e-12)
	assert.Equal(t, 0.0, got[3])

	assert.Equal(t, make([]float64, 5), PatternMatches(zero, []models.GeometryEmbedding{same}, 5))
}

func TestScoredMatchesSeparatesPaddingFromOpposites(t *testing.T) {
	var cur, opposite, zero models.GeometryEmbedding
	cur[0], opposite[0] = 1, -1
	history := []models.GeometryEmbedding{opposite, zero}

	got := PatternMatches(cur, history, 4)
	assert.Equal(t, []float64{0, 0, 0, 0}, got)
	assert.Equal(t, 1, ScoredMatches(cur, history, 4), "only the opposite pattern was scored")

	assert.Equal(t, 2, ScoredMatches(cur, []models.GeometryEmbedding{cur, opposite, cur}, 2))
	assert.Equal(t, 0, ScoredMatches(zero, history, 4))
}

func TestPatternMatchIndex(t *testing.T) {
	var z models.GeometryEmbedding
	z[0], z[1] = 3, 4
	assert.InDelta(t, 0.2, PatternMatchIndex(z), 1e-9)
}
