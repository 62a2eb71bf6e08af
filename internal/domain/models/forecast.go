package models

// ForecastOutput is the document consumed by the dashboard. It is built once
// per inference run and never mutated afterwards.
type ForecastOutput struct {
	Timestamp              string        `json:"timestamp"`
	LastUpdate             string        `json:"lastUpdate"`
	ModelVersion           string        `json:"modelVersion,omitempty"`
	ModelDate              string        `json:"modelDate,omitempty"`
	Close                  float64       `json:"close"`
	CurrentSpot            float64       `json:"currentSpot"`
	CurrentVIX             float64       `json:"currentVIX"`
	HistoricalClose        []float64     `json:"historicalClose"`
	HistoricalPatternMatch []float64     `json:"historicalPatternMatch"`
	SpotPrice              QuoteBlock    `json:"spotPrice"`
	IndiaVIX               QuoteBlock    `json:"indiaVIX"`
	Tiles                  ForecastTiles `json:"tiles"`
}

type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type QuoteBlock struct {
	Current       float64 `json:"current"`
	ChangePercent float64 `json:"change_percent"`
	OHLC          OHLC    `json:"ohlc"`
}

// Envelope is a [low, high] price band.
type Envelope [2]float64

type ForecastTiles struct {
	TomorrowExpectedMove    float64          `json:"tomorrow_expected_move_pts"`
	TwoDayExpectedMove      float64          `json:"twoday_expected_move_pts"`
	ThreeDayExpectedMove    float64          `json:"threeday_expected_move_pts"`
	WeeklyRange             Envelope         `json:"weekly_range_pts"`
	MonthlyRange            Envelope         `json:"monthly_range_pts"`
	DirectionalTilt         Tilt             `json:"directional_tilt"`
	ShortTermEnvelope       Envelope         `json:"short_term_envelope"`
	MediumTermEnvelope      Envelope         `json:"medium_term_envelope"`
	VolatilityExpansionProb *float64         `json:"volatility_expansion_prob"`
	PatternMatchIndex       float64          `json:"pattern_match_index"`
	TrendStrength           float64          `json:"regime_free_trend_strength"`
	CompositeSummary        CompositeSummary `json:"composite_summary"`
}

type CompositeSummary struct {
	TiltMap       Tilt          `json:"tilt_map"`
	ExpectedMoves ExpectedMoves `json:"expected_moves"`
	ExpansionProb *float64      `json:"expansion_prob"`
	PatternMatch  float64       `json:"pattern_match"`
	TrendStrength float64       `json:"trend_strength"`
}

// ExpectedMoves are absolute point moves per horizon.
type ExpectedMoves struct {
	Tomorrow float64 `json:"tomorrow"`
	TwoDay   float64 `json:"2d"`
	ThreeDay float64 `json:"3d"`
	Week     float64 `json:"week"`
	NextWeek float64 `json:"next_week"`
	Month    float64 `json:"month"`
}

// ForecastRecord is the flattened row kept in forecast history.
type ForecastRecord struct {
	RunID         string   `json:"run_id"`
	Symbol        string   `json:"symbol"`
	Timestamp     string   `json:"timestamp"`
	Close         float64  `json:"close"`
	Bear          float64  `json:"bear"`
	Neutral       float64  `json:"neutral"`
	Bull          float64  `json:"bull"`
	ExpansionProb *float64 `json:"expansion_prob"`
	WeekMove      float64  `json:"week_move"`
	ModelVersion  string   `json:"model_version"`
}

// Record flattens the document for history storage.
func (o *ForecastOutput) Record(runID, symbol string) ForecastRecord {
	return ForecastRecord{
		RunID:         runID,
		Symbol:        symbol,
		Timestamp:     o.Timestamp,
		Close:         o.Close,
		Bear:          o.Tiles.DirectionalTilt.Bear,
		Neutral:       o.Tiles.DirectionalTilt.Neutral,
		Bull:          o.Tiles.DirectionalTilt.Bull,
		ExpansionProb: o.Tiles.VolatilityExpansionProb,
		WeekMove:      o.Tiles.CompositeSummary.ExpectedMoves.Week,
		ModelVersion:  o.ModelVersion,
	}
}
