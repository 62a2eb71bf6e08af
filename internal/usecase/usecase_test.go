package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/domain/service"
	"OmniSpectrum/internal/services/embedding"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/internal/services/marketdata"
	"OmniSpectrum/internal/services/nn"
)

var fixedNow = time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)

// slopeBundle classifies bull in proportion to relu(1000 * ema_slope).
func slopeBundle() *service.ModelBundle {
	hidden := &nn.Dense{In: models.FusedDim, Out: fusion.ClassifierHidden,
		W: make([]float64, models.FusedDim*fusion.ClassifierHidden), B: make([]float64, fusion.ClassifierHidden)}
	hidden.W[models.ScalarOffset+models.ScalarEMASlope] = 1000
	out := &nn.Dense{In: fusion.ClassifierHidden, Out: models.NumClasses,
		W: make([]float64, fusion.ClassifierHidden*models.NumClasses), B: make([]float64, models.NumClasses)}
	out.W[int(models.LabelBull)*fusion.ClassifierHidden] = 1

	return &service.ModelBundle{
		Temporal:  embedding.NewTemporalEncoder(nn.NewRand(1, 1)),
		Surface:   embedding.NewSurfaceEncoder(nn.NewRand(1, 2)),
		Geometry:  embedding.NewGeometryAutoencoder(nn.NewRand(1, 3)),
		Direction: fusion.NewClassifierFromLayers(hidden, out),
	}
}

func constantReturnBars(n int, r float64) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	px := 100.0
	for i := range bars {
		if i > 0 {
			px *= 1 + r
		}
		bars[i] = models.Bar{Time: start.AddDate(0, 0, i), Open: px, High: px, Low: px, Close: px}
	}
	return bars
}

type staticSource struct{ snap *models.MarketSnapshot }

func (s staticSource) Load(context.Context) (*models.MarketSnapshot, error) { return s.snap, nil }

type docSource []byte

func (d docSource) Load(context.Context) (*models.MarketSnapshot, error) {
	return marketdata.Decode(d, "NIFTY")
}

type errSource struct{ err error }

func (s errSource) Load(context.Context) (*models.MarketSnapshot, error) { return nil, s.err }

type memSink struct {
	mu   sync.Mutex
	last *models.ForecastOutput
	runs []string
	err  error
}

func (s *memSink) Write(_ context.Context, runID string, out *models.ForecastOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, runID)
	if s.err != nil {
		return s.err
	}
	s.last = out
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) Latest(context.Context) (*models.ForecastOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, models.ErrNoForecast
	}
	return s.last, nil
}

type countingMetrics struct {
	mu       sync.Mutex
	stages   map[string]int
	forecast []models.Label
	errs     []string
}

func (m *countingMetrics) ObserveStage(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stages == nil {
		m.stages = map[string]int{}
	}
	m.stages[stage]++
}

func (m *countingMetrics) RecordForecast(l models.Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecast = append(m.forecast, l)
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, kind)
}

func newInference(src interface {
	Load(context.Context) (*models.MarketSnapshot, error)
}, sink *memSink, opts ...InferenceOption) *InferenceUseCase {
	opts = append([]InferenceOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	var s interface {
		Write(context.Context, string, *models.ForecastOutput) error
		Close() error
	}
	if sink != nil {
		s = sink
	}
	return NewInferenceUseCase(src, slopeBundle(), s, opts...)
}

func TestRunInferenceConstantReturns(t *testing.T) {
	snap := &models.MarketSnapshot{Series: models.MarketSeries{Symbol: "NIFTY", Bars: constantReturnBars(200, 0.001)}}
	sink := &memSink{}
	metrics := &countingMetrics{}

	out, err := newInference(staticSource{snap}, sink, WithInferenceMetrics(metrics)).RunInference(context.Background())
	require.NoError(t, err)

	tilt := out.Tiles.DirectionalTilt
	assert.InDelta(t, 1.0, tilt.Sum(), 1e-9)
	assert.Greater(t, tilt.Bull, tilt.Bear)
	assert.Greater(t, tilt.Bull, tilt.Neutral)
	assert.Greater(t, out.Tiles.TrendStrength, 0.0)

	moves := out.Tiles.CompositeSummary.ExpectedMoves
	for _, m := range []float64{moves.Tomorrow, moves.TwoDay, moves.ThreeDay, moves.Week, moves.NextWeek, moves.Month} {
		assert.InDelta(t, 0, m, 0.01)
	}
	assert.InDelta(t, out.Close, out.Tiles.WeeklyRange[0], 0.01)
	assert.InDelta(t, out.Close, out.Tiles.WeeklyRange[1], 0.01)

	assert.Nil(t, out.Tiles.VolatilityExpansionProb)
	assert.Len(t, out.HistoricalClose, 30)
	assert.InDelta(t, 100*math.Pow(1.001, 199), out.Close, 1e-6)

	require.Len(t, out.HistoricalPatternMatch, 20)
	for i := 1; i < len(out.HistoricalPatternMatch); i++ {
		assert.GreaterOrEqual(t, out.HistoricalPatternMatch[i-1], out.HistoricalPatternMatch[i])
	}
	for _, v := range out.HistoricalPatternMatch {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	// 141 feature rows leave room for six earlier non-overlapping windows
	assert.Equal(t, make([]float64, 14), out.HistoricalPatternMatch[6:])

	assert.Equal(t, out.Close, out.CurrentSpot)
	assert.Equal(t, 15.0, out.CurrentVIX)
	assert.Equal(t, 0.0, out.IndiaVIX.ChangePercent)
	assert.Equal(t, models.OHLC{Open: 15, High: 15, Low: 15, Close: 15}, out.IndiaVIX.OHLC)
	assert.Equal(t, fixedNow.Format(time.RFC3339), out.Timestamp)
	assert.Equal(t, out.Timestamp, out.LastUpdate)

	require.Len(t, sink.runs, 1)
	assert.Same(t, out, sink.last)
	assert.Equal(t, []models.Label{models.LabelBull}, metrics.forecast)
	assert.Equal(t, 1, metrics.stages[StageEncode])
	assert.Equal(t, 1, metrics.stages[StageTotal])
}

func canonicalDoc(bars []models.Bar) []byte {
	cols := map[string][]any{"open": {}, "high": {}, "low": {}, "close": {}, "volume": {}, "dates": {}}
	for _, b := range bars {
		cols["open"] = append(cols["open"], b.Open)
		cols["high"] = append(cols["high"], b.High)
		cols["low"] = append(cols["low"], b.Low)
		cols["close"] = append(cols["close"], b.Close)
		cols["volume"] = append(cols["volume"], b.Volume)
		cols["dates"] = append(cols["dates"], b.Time.Format("2006-01-02"))
	}
	raw, _ := json.Marshal(map[string]any{"ohlc": cols})
	return raw
}

func multiSeriesDoc(bars []models.Bar) []byte {
	data := make([]map[string]any, len(bars))
	for i, b := range bars {
		data[i] = map[string]any{
			"Date": b.Time.Format("2006-01-02"), "Open": b.Open, "High": b.High,
			"Low": b.Low, "Close": b.Close, "Volume": b.Volume,
		}
	}
	raw, _ := json.Marshal(map[string]any{
		"series": map[string]any{
			"nifty_daily": map[string]any{"meta": map[string]string{"ticker": "^NSEI"}, "data": data},
		},
	})
	return raw
}

func TestRunInferenceShapeInvariance(t *testing.T) {
	bars := constantReturnBars(180, 0)
	for i := range bars {
		// deterministic wiggle so windows are non-trivial
		bars[i].Close = 20000 + 150*math.Sin(float64(i)/7) + float64(i)
		bars[i].Open = bars[i].Close - 10
		bars[i].High = bars[i].Close + 40
		bars[i].Low = bars[i].Close - 45
		bars[i].Volume = 1000
	}

	a, err := newInference(docSource(canonicalDoc(bars)), nil).RunInference(context.Background())
	require.NoError(t, err)
	b, err := newInference(docSource(multiSeriesDoc(bars)), nil).RunInference(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRunInferenceIncludesExpansionAndManifest(t *testing.T) {
	b := slopeBundle()
	xs := [][]float64{make([]float64, models.FusedDim), make([]float64, models.FusedDim)}
	xs[1][0] = 1
	booster, err := fusion.FitBooster(xs, []bool{false, true}, fusion.BoosterTraining{Rounds: 2, MaxDepth: 1, LearningRate: 0.1, MinLeaf: 1, Bins: 4, Lambda: 1})
	require.NoError(t, err)
	b.Expansion = booster
	b.Manifest = &models.ModelManifest{Version: "v-7", TrainedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	spot, vix := 0.0, 18.0
	snap := &models.MarketSnapshot{
		Series:    models.MarketSeries{Bars: constantReturnBars(170, 0.002)},
		Spot:      &spot,
		VIX:       &vix,
		Timestamp: "2025-06-30T15:30:00Z",
	}
	uc := NewInferenceUseCase(staticSource{snap}, b, nil, WithClock(func() time.Time { return fixedNow }))
	out, err := uc.RunInference(context.Background())
	require.NoError(t, err)

	require.NotNil(t, out.Tiles.VolatilityExpansionProb)
	assert.Equal(t, out.Tiles.VolatilityExpansionProb, out.Tiles.CompositeSummary.ExpansionProb)
	assert.Equal(t, "v-7", out.ModelVersion)
	assert.Equal(t, "2025-06-01", out.ModelDate)
	assert.Equal(t, "2025-06-30T15:30:00Z", out.LastUpdate)
	assert.Equal(t, out.Close, out.CurrentSpot, "zero spot falls back to close")
	assert.Equal(t, 18.0, out.IndiaVIX.Current)
	assert.Equal(t, 20.0, out.IndiaVIX.ChangePercent)
}

func TestRunInferenceFatalErrorsWriteNothing(t *testing.T) {
	sink := &memSink{}
	metrics := &countingMetrics{}
	cause := models.NewError("load cache", models.ErrCacheMissing, "gone")

	out, err := newInference(errSource{cause}, sink, WithInferenceMetrics(metrics)).RunInference(context.Background())
	require.ErrorIs(t, err, models.ErrCacheMissing)
	assert.Nil(t, out)
	assert.Empty(t, sink.runs)
	assert.Equal(t, []string{"cache_missing"}, metrics.errs)

	short := &models.MarketSnapshot{Series: models.MarketSeries{Bars: constantReturnBars(120, 0.001)}}
	_, err = newInference(staticSource{short}, sink).RunInference(context.Background())
	require.ErrorIs(t, err, models.ErrInsufficientHistory)
	assert.Empty(t, sink.runs)
}

func TestRunInferenceSinkFailure(t *testing.T) {
	snap := &models.MarketSnapshot{Series: models.MarketSeries{Bars: constantReturnBars(200, 0.001)}}
	sink := &memSink{err: errors.New("read-only fs")}

	out, err := newInference(staticSource{snap}, sink).RunInference(context.Background())
	require.Error(t, err)
	assert.Nil(t, out)
}

type stubLoader struct {
	calls int
	b     *service.ModelBundle
	err   error
}

func (l *stubLoader) Load() (*service.ModelBundle, error) {
	l.calls++
	return l.b, l.err
}

func TestLoadModelBundle(t *testing.T) {
	loader := &stubLoader{err: models.NewError("load", models.ErrModelLoad, "empty dir")}
	assert.Nil(t, LoadModelBundle(loader, nil))

	loader.b, loader.err = &service.ModelBundle{}, nil
	assert.Nil(t, LoadModelBundle(loader, nil), "incomplete bundle is rejected")

	want := slopeBundle()
	loader.b = want
	assert.Same(t, want, LoadModelBundle(loader, nil))
	assert.Equal(t, 3, loader.calls)
}

func TestRunInferenceWithoutBundle(t *testing.T) {
	snap := &models.MarketSnapshot{Series: models.MarketSeries{Bars: constantReturnBars(200, 0.001)}}
	sink := &memSink{}

	uc := NewInferenceUseCase(staticSource{snap}, nil, sink)
	_, err := uc.RunInference(context.Background())
	require.ErrorIs(t, err, models.ErrModelLoad)
	assert.Empty(t, sink.runs)
}
