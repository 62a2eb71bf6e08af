package models

import "time"

const (
	TradingDays = 252
	Epsilon     = 1e-9

	MinBars        = 100
	MinFeatureRows = 100
	WarmupRows     = 59

	TemporalLookback = 90
	TemporalFeatures = 4
	SurfaceLookback  = 60
	GridSize         = 8
	GeometryLookback = 20
	ScalarCount      = 6

	TemporalDim = 32
	SurfaceDim  = 32
	GeometryDim = 16
	FusedDim    = TemporalDim + SurfaceDim + GeometryDim + ScalarCount

	// ScalarOffset is where the scalar block starts inside a FusedVector.
	ScalarOffset = TemporalDim + SurfaceDim + GeometryDim
)

// FeatureRow holds every engineered column for one bar.
type FeatureRow struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	Return      float64
	RV5         float64
	RV10        float64
	RV20        float64
	RV60        float64
	EMA8        float64
	EMA21       float64
	EMASlope    float64
	Range       float64
	Range10     float64
	RVRatio1060 float64
	ReturnZ20   float64
}

// FeatureTable is the warm-up-trimmed feature history. Rows are ordered by time.
type FeatureTable struct {
	Rows []FeatureRow
}

func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *FeatureTable) Last() FeatureRow {
	return t.Rows[len(t.Rows)-1]
}

// TemporalWindow rows are [return, rv_10, rv_20, ema_slope], oldest first.
type TemporalWindow [TemporalLookback][TemporalFeatures]float64

// SurfaceGrid is the single-channel 8x8 image fed to the surface encoder.
type SurfaceGrid [GridSize][GridSize]float64

// GeometryVector holds close-to-close angles, left aligned.
type GeometryVector [GeometryLookback]float64

// ScalarFeatures is ordered close, rv_10, rv_20, range_10, ema_slope, ret_z_20.
type ScalarFeatures [ScalarCount]float64

const (
	ScalarClose = iota
	ScalarRV10
	ScalarRV20
	ScalarRange10
	ScalarEMASlope
	ScalarReturnZ20
)

type (
	TemporalEmbedding [TemporalDim]float64
	SurfaceEmbedding  [SurfaceDim]float64
	GeometryEmbedding [GeometryDim]float64
)

// FusedVector is temporal ‖ surface ‖ geometry ‖ scalars.
type FusedVector [FusedDim]float64
