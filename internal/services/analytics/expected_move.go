package analytics

import (
	"math"

	"OmniSpectrum/internal/domain/models"
)

// Horizon is a named forecast horizon in trading days.
type Horizon struct {
	Name string
	Days int
}

var Horizons = []Horizon{
	{"tomorrow", 1},
	{"2d", 2},
	{"3d", 3},
	{"week", 5},
	{"next_week", 7},
	{"month", 21},
}

// ExpectedMove converts an annualized volatility into an absolute point move
// over horizonDays: close * sigma * sqrt(h/252). A non-positive sigma or
// horizon yields 0.
func ExpectedMove(closePrice, sigmaAnnual float64, horizonDays int) float64 {
	if horizonDays <= 0 || sigmaAnnual <= 0 {
		return 0
	}
	return closePrice * sigmaAnnual * math.Sqrt(float64(horizonDays)/models.TradingDays)
}

// SelectSigma prefers the 20-day realized volatility and falls back to the
// 10-day one when it is not positive.
func SelectSigma(rv20, rv10 float64) float64 {
	if rv20 > 0 {
		return rv20
	}
	return math.Max(rv10, 0)
}

// Moves evaluates every horizon in Horizons.
func Moves(closePrice, sigma float64) models.ExpectedMoves {
	m := make(map[string]float64, len(Horizons))
	for _, h := range Horizons {
		m[h.Name] = ExpectedMove(closePrice, sigma, h.Days)
	}
	return models.ExpectedMoves{
		Tomorrow: m["tomorrow"],
		TwoDay:   m["2d"],
		ThreeDay: m["3d"],
		Week:     m["week"],
		NextWeek: m["next_week"],
		Month:    m["month"],
	}
}

// Envelope is the symmetric band [close-move, close+move].
func Envelope(closePrice, move float64) models.Envelope {
	return models.Envelope{closePrice - move, closePrice + move}
}
