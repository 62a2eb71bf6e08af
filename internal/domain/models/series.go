package models

import "time"

// Bar is one daily OHLCV observation.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MarketSeries is an ordered, immutable bar history for a single index.
type MarketSeries struct {
	Symbol string
	Bars   []Bar
}

func (s MarketSeries) Len() int { return len(s.Bars) }

func (s MarketSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// CacheVariant identifies which cache document shape a snapshot came from.
type CacheVariant int

const (
	VariantCanonical CacheVariant = iota
	VariantMultiSeries
	VariantSynthetic
)

func (v CacheVariant) String() string {
	switch v {
	case VariantCanonical:
		return "canonical"
	case VariantMultiSeries:
		return "multi_series"
	case VariantSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// PartialOHLC carries a quote block where any field may be missing.
type PartialOHLC struct {
	Open  *float64
	High  *float64
	Low   *float64
	Close *float64
}

// MarketSnapshot is a normalized cache document: the bar history plus the
// quote context that only affects presentation.
type MarketSnapshot struct {
	Series    MarketSeries
	Spot      *float64
	VIX       *float64
	SpotOHLC  PartialOHLC
	VIXOHLC   PartialOHLC
	Timestamp string
	Variant   CacheVariant
}
