package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/services/embedding"
	"OmniSpectrum/internal/services/features"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/internal/services/marketdata"
	"OmniSpectrum/internal/services/training"
	"OmniSpectrum/pkg/cache"
)

func syntheticDoc(t *testing.T, days int) []byte {
	t.Helper()
	cfg := marketdata.DefaultSyntheticConfig()
	cfg.Days = days
	cfg.End = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	data, err := marketdata.GenerateSynthetic(cfg)
	require.NoError(t, err)
	return data
}

func TestFileSnapshotSource(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileSnapshotSource(filepath.Join(dir, "nope.json"), "NIFTY", nil).Load(context.Background())
		assert.ErrorIs(t, err, models.ErrCacheMissing)
	})

	t.Run("malformed", func(t *testing.T) {
		p := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o644))
		_, err := NewFileSnapshotSource(p, "NIFTY", nil).Load(context.Background())
		assert.ErrorIs(t, err, models.ErrCacheInvalid)
	})

	t.Run("synthetic", func(t *testing.T) {
		p := filepath.Join(dir, "cache.json")
		require.NoError(t, os.WriteFile(p, syntheticDoc(t, 150), 0o644))
		snap, err := NewFileSnapshotSource(p, "NIFTY", nil).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 150, snap.Series.Len())
		assert.Equal(t, models.VariantSynthetic, snap.Variant)
	})
}

func TestHTTPSnapshotSource(t *testing.T) {
	doc := syntheticDoc(t, 120)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cache.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	snap, err := NewHTTPSnapshotSource(srv.URL+"/cache.json", "NIFTY", 5*time.Second, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, snap.Series.Len())

	_, err = NewHTTPSnapshotSource(srv.URL+"/missing", "NIFTY", 5*time.Second, nil).Load(context.Background())
	assert.ErrorIs(t, err, models.ErrCacheMissing)
}

func TestHTTPSnapshotSourceRevalidates(t *testing.T) {
	doc := syntheticDoc(t, 120)
	var conditional int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	src := NewHTTPSnapshotSource(srv.URL, "NIFTY", 5*time.Second, nil)
	first, err := src.Load(context.Background())
	require.NoError(t, err)
	second, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, conditional)
	assert.Same(t, first, second)
}

type fakeCandles struct {
	bars []models.Bar
	err  error
}

func (f fakeCandles) LatestBars(_ context.Context, _ string, n int) ([]models.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.bars) > n {
		return f.bars[len(f.bars)-n:], nil
	}
	return f.bars, nil
}

func makeBars(n int) []models.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, n)
	for i := range out {
		px := 100 + float64(i)
		out[i] = models.Bar{Time: start.AddDate(0, 0, i), Open: px, High: px + 1, Low: px - 1, Close: px}
	}
	return out
}

func TestStoreSnapshotSource(t *testing.T) {
	ctx := context.Background()

	snap, err := NewStoreSnapshotSource(fakeCandles{bars: makeBars(130)}, "NIFTY", 120).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 120, snap.Series.Len())
	assert.Equal(t, "2024-05-09T00:00:00Z", snap.Timestamp)

	_, err = NewStoreSnapshotSource(fakeCandles{}, "NIFTY", 120).Load(ctx)
	assert.ErrorIs(t, err, models.ErrCacheMissing)

	_, err = NewStoreSnapshotSource(fakeCandles{bars: makeBars(50)}, "NIFTY", 120).Load(ctx)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)

	_, err = NewStoreSnapshotSource(fakeCandles{err: errors.New("down")}, "NIFTY", 120).Load(ctx)
	assert.ErrorIs(t, err, models.ErrCacheMissing)
}

type recordingSink struct {
	runs   []string
	err    error
	closed bool
}

func (s *recordingSink) Write(_ context.Context, runID string, _ *models.ForecastOutput) error {
	s.runs = append(s.runs, runID)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	out := &models.ForecastOutput{Close: 100}

	primary, failing, other := &recordingSink{}, &recordingSink{err: errors.New("boom")}, &recordingSink{}
	m := NewMultiSink(nil, primary, failing)
	m.Add(other)

	require.NoError(t, m.Write(ctx, "run-1", out))
	assert.Equal(t, []string{"run-1"}, primary.runs)
	assert.Equal(t, []string{"run-1"}, failing.runs)
	assert.Equal(t, []string{"run-1"}, other.runs)

	primary.err = errors.New("disk full")
	require.Error(t, m.Write(ctx, "run-2", out))
	assert.Len(t, other.runs, 1, "secondaries are skipped when the primary fails")

	require.NoError(t, m.Close())
	assert.True(t, primary.closed)
	assert.True(t, other.closed)
}

func TestFileSink(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out", "omnispectrum.json")
	out := &models.ForecastOutput{Timestamp: "2025-06-30T00:00:00Z", Close: 23500.5}

	sink := NewFileSink(p)
	_, err := sink.Latest(context.Background())
	require.ErrorIs(t, err, models.ErrNoForecast)

	require.NoError(t, sink.Write(context.Background(), "r", out))

	latest, err := sink.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, out.Close, latest.Close)

	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	var got models.ForecastOutput
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, out.Close, got.Close)
	assert.Equal(t, out.Timestamp, got.Timestamp)
}

func TestCacheSink(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	sink := NewCacheSink(mc, "NIFTY", time.Minute)
	ctx := context.Background()

	_, err := sink.Latest(ctx)
	require.ErrorIs(t, err, models.ErrNoForecast)
	require.ErrorIs(t, err, cache.ErrCacheMiss)

	prob := 0.42
	out := &models.ForecastOutput{Close: 101}
	out.Tiles.VolatilityExpansionProb = &prob
	require.NoError(t, sink.Write(ctx, "r", out))

	got, err := sink.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 101.0, got.Close)
	require.NotNil(t, got.Tiles.VolatilityExpansionProb)
	assert.Equal(t, 0.42, *got.Tiles.VolatilityExpansionProb)
}

func trainSmall(t *testing.T) *training.Result {
	t.Helper()
	snap, err := marketdata.Decode(syntheticDoc(t, 260), "NIFTY")
	require.NoError(t, err)
	table, err := features.ComputeFeatureTable(snap.Series)
	require.NoError(t, err)

	res, err := training.NewTrainer(training.Config{
		Seed:         7,
		ModelVersion: "v-test",
		Symbol:       "NIFTY",
		Autoencoder:  embedding.AutoencoderTraining{Epochs: 1, BatchSize: 16, LearningRate: 0.01},
		Classifier:   fusion.ClassifierTraining{Epochs: 2, BatchSize: 16, LearningRate: 0.05},
		Booster:      fusion.BoosterTraining{Rounds: 3, MaxDepth: 2, LearningRate: 0.1, MinLeaf: 3, Bins: 16, Lambda: 1},
	}, nil).Train(context.Background(), table)
	require.NoError(t, err)
	return res
}

func TestModelStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	res := trainSmall(t)
	store := NewModelStore(dir, nil)
	require.NoError(t, store.Save(res))

	b, err := store.Load()
	require.NoError(t, err)
	assert.True(t, b.HasExpansion())
	require.NotNil(t, b.Manifest)
	assert.Equal(t, "v-test", b.ModelVersion())

	var v models.FusedVector
	v[84] = 0.02
	assert.InDelta(t, res.Classifier.Predict(&v).Bull, b.Direction.Predict(&v).Bull, 1e-12)
	assert.InDelta(t, res.Booster.Probability(&v), b.Expansion.Probability(&v), 1e-12)

	t.Run("expansion optional", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, fusion.ExpansionFile)))
		b, err := store.Load()
		require.NoError(t, err)
		assert.False(t, b.HasExpansion())
		assert.Nil(t, b.Expansion)
	})

	t.Run("classifier required", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, fusion.ClassifierFile)))
		_, err := store.Load()
		assert.ErrorIs(t, err, models.ErrModelLoad)
	})
}

func TestModelStoreEmptyDir(t *testing.T) {
	_, err := NewModelStore(t.TempDir(), nil).Load()
	assert.ErrorIs(t, err, models.ErrModelLoad)
}
