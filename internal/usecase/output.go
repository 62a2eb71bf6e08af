package usecase

import (
	"time"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/analytics"
	"OmniSpectrum/pkg/util"
)

const (
	defaultVIX       = 15.0
	historicalCloses = 30
)

// outputInput carries everything one inference run contributes to the
// document.
type outputInput struct {
	snap      *models.MarketSnapshot
	table     *models.FeatureTable
	scalars   models.ScalarFeatures
	tilt      models.Tilt
	expansion *float64
	moves     models.ExpectedMoves
	geometry  models.GeometryEmbedding
	matches   []float64
	manifest  *models.ModelManifest
	now       time.Time
}

// buildOutput is the only place a ForecastOutput is assembled.
func buildOutput(in outputInput) *models.ForecastOutput {
	closePx := in.scalars[models.ScalarClose]
	now := in.now.UTC().Format(time.RFC3339)

	spot := closePx
	if in.snap.Spot != nil && *in.snap.Spot != 0 {
		spot = *in.snap.Spot
	}
	vix := defaultVIX
	if in.snap.VIX != nil && *in.snap.VIX != 0 {
		vix = *in.snap.VIX
	}

	patternIdx := util.Round(analytics.PatternMatchIndex(in.geometry), 4)
	trend := util.Round(in.scalars[models.ScalarEMASlope], 6)
	moves := roundMoves(in.moves)

	out := &models.ForecastOutput{
		Timestamp:              now,
		LastUpdate:             now,
		Close:                  closePx,
		CurrentSpot:            spot,
		CurrentVIX:             vix,
		HistoricalClose:        lastCloses(in.table, historicalCloses),
		HistoricalPatternMatch: util.RoundAll(append([]float64(nil), in.matches...), 4),
		SpotPrice: models.QuoteBlock{
			Current:       util.Round(spot, 2),
			ChangePercent: changePercent(spot, closePx),
			OHLC:          fillOHLC(in.snap.SpotOHLC, closePx),
		},
		IndiaVIX: models.QuoteBlock{
			Current:       util.Round(vix, 2),
			ChangePercent: changePercent(vix, defaultVIX),
			OHLC:          fillOHLC(in.snap.VIXOHLC, defaultVIX),
		},
		Tiles: models.ForecastTiles{
			TomorrowExpectedMove:    moves.Tomorrow,
			TwoDayExpectedMove:      moves.TwoDay,
			ThreeDayExpectedMove:    moves.ThreeDay,
			WeeklyRange:             roundedEnvelope(closePx, in.moves.Week),
			MonthlyRange:            roundedEnvelope(closePx, in.moves.Month),
			DirectionalTilt:         in.tilt,
			ShortTermEnvelope:       roundedEnvelope(closePx, in.moves.Tomorrow),
			MediumTermEnvelope:      roundedEnvelope(closePx, in.moves.Week),
			VolatilityExpansionProb: in.expansion,
			PatternMatchIndex:       patternIdx,
			TrendStrength:           trend,
			CompositeSummary: models.CompositeSummary{
				TiltMap:       in.tilt,
				ExpectedMoves: moves,
				ExpansionProb: in.expansion,
				PatternMatch:  patternIdx,
				TrendStrength: trend,
			},
		},
	}
	if in.snap.Timestamp != "" {
		out.LastUpdate = in.snap.Timestamp
	}
	if in.manifest != nil {
		out.ModelVersion = in.manifest.Version
		if !in.manifest.TrainedAt.IsZero() {
			out.ModelDate = in.manifest.TrainedAt.UTC().Format("2006-01-02")
		}
	}
	return out
}

func roundMoves(m models.ExpectedMoves) models.ExpectedMoves {
	return models.ExpectedMoves{
		Tomorrow: util.Round(m.Tomorrow, 2),
		TwoDay:   util.Round(m.TwoDay, 2),
		ThreeDay: util.Round(m.ThreeDay, 2),
		Week:     util.Round(m.Week, 2),
		NextWeek: util.Round(m.NextWeek, 2),
		Month:    util.Round(m.Month, 2),
	}
}

func roundedEnvelope(closePx, move float64) models.Envelope {
	e := analytics.Envelope(closePx, move)
	return models.Envelope{util.Round(e[0], 2), util.Round(e[1], 2)}
}

func changePercent(current, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return util.Round((current-ref)/ref*100, 2)
}

func fillOHLC(p models.PartialOHLC, def float64) models.OHLC {
	pick := func(v *float64) float64 {
		if v == nil {
			return def
		}
		return *v
	}
	return models.OHLC{Open: pick(p.Open), High: pick(p.High), Low: pick(p.Low), Close: pick(p.Close)}
}

func lastCloses(t *models.FeatureTable, n int) []float64 {
	start := max(0, t.Len()-n)
	out := make([]float64, 0, t.Len()-start)
	for _, r := range t.Rows[start:] {
		out = append(out, util.Round(r.Close, 2))
	}
	return out
}
