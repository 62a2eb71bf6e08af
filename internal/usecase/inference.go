package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"OmniSpectrum/internal/domain/models"
	domrepo "OmniSpectrum/internal/domain/repository"
	"OmniSpectrum/internal/domain/service"
	"OmniSpectrum/internal/services/analytics"
	"OmniSpectrum/internal/services/features"
	"OmniSpectrum/internal/services/fusion"
	"OmniSpectrum/pkg/logger"
)

// Pipeline stage names reported to Metrics.
const (
	StageLoad     = "load"
	StageFeatures = "features"
	StageEncode   = "encode"
	StageDecide   = "decide"
	StageOutput   = "output"
	StageSink     = "sink"
	StageTotal    = "total"
)

// InferenceUseCase runs the forecast pipeline end to end.
type InferenceUseCase struct {
	source  domrepo.SnapshotSource
	bundle  *service.ModelBundle
	sink    domrepo.ForecastSink
	metrics domrepo.Metrics
	log     *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

type InferenceOption func(*InferenceUseCase)

func WithInferenceTimeout(d time.Duration) InferenceOption {
	return func(uc *InferenceUseCase) { uc.timeout = d }
}

func WithInferenceMetrics(m domrepo.Metrics) InferenceOption {
	return func(uc *InferenceUseCase) {
		if m != nil {
			uc.metrics = m
		}
	}
}

func WithInferenceLogger(l *logger.Logger) InferenceOption {
	return func(uc *InferenceUseCase) {
		if l != nil {
			uc.log = l
		}
	}
}

func WithClock(now func() time.Time) InferenceOption {
	return func(uc *InferenceUseCase) { uc.now = now }
}

// NewInferenceUseCase wires the pipeline around a bundle that stays fixed
// for the life of the use case. bundle may be nil when no artifacts were
// found at startup; every run then fails with ErrModelLoad. sink may be nil
// when the caller only wants the returned document.
func NewInferenceUseCase(source domrepo.SnapshotSource, bundle *service.ModelBundle, sink domrepo.ForecastSink, opts ...InferenceOption) *InferenceUseCase {
	uc := &InferenceUseCase{
		source:  source,
		bundle:  bundle,
		sink:    sink,
		metrics: nopMetrics{},
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// RunInference produces one forecast document. Any fatal error aborts the
// run before a document is built or written.
func (uc *InferenceUseCase) RunInference(ctx context.Context) (*models.ForecastOutput, error) {
	runID := uuid.NewString()
	log := uc.log.With(logger.String("run_id", runID))
	start := time.Now()

	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	out, err := uc.run(ctx, runID, log)
	uc.metrics.ObserveStage(StageTotal, time.Since(start))
	if err != nil {
		uc.metrics.RecordError(models.ErrorKind(err))
		log.Error("inference failed", logger.Error(err), logger.Duration("duration_ms", time.Since(start)))
		return nil, err
	}
	uc.metrics.RecordForecast(out.Tiles.DirectionalTilt.Argmax())
	log.Info("inference completed",
		logger.Float64("close", out.Close),
		logger.String("direction", out.Tiles.DirectionalTilt.Argmax().String()),
		logger.Float64("week_move", out.Tiles.CompositeSummary.ExpectedMoves.Week),
		logger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (uc *InferenceUseCase) run(ctx context.Context, runID string, log *logger.Logger) (*models.ForecastOutput, error) {
	bundle := uc.bundle
	if bundle == nil {
		return nil, errNoBundle
	}

	t := time.Now()
	snap, err := uc.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	uc.metrics.ObserveStage(StageLoad, time.Since(t))
	log.Debug("snapshot loaded",
		logger.String("variant", snap.Variant.String()),
		logger.Int("bars", snap.Series.Len()),
		logger.String("timestamp", snap.Timestamp),
	)

	t = time.Now()
	table, err := features.ComputeFeatureTable(snap.Series)
	if err != nil {
		return nil, err
	}
	end := table.Len() - 1
	w := features.BuildWindows(table, end)
	uc.metrics.ObserveStage(StageFeatures, time.Since(t))

	t = time.Now()
	enc, err := encodeAll(ctx, bundle, table, &w)
	if err != nil {
		return nil, err
	}
	uc.metrics.ObserveStage(StageEncode, time.Since(t))

	t = time.Now()
	fused := fusion.Fuse(enc.temporal, enc.surface, enc.geometry, w.Scalars)
	tilt := bundle.Direction.Predict(&fused)

	var expansion *float64
	if bundle.HasExpansion() {
		p := bundle.Expansion.Probability(&fused)
		expansion = &p
	} else {
		log.Warn("volatility expansion probability omitted", logger.Error(models.ErrExpansionModelUnavailable))
	}

	sigma := analytics.SelectSigma(w.Scalars[models.ScalarRV20], w.Scalars[models.ScalarRV10])
	moves := analytics.Moves(w.Scalars[models.ScalarClose], sigma)
	matches := analytics.PatternMatches(enc.geometry, enc.history, analytics.PatternMatchCount)
	if n := analytics.ScoredMatches(enc.geometry, enc.history, analytics.PatternMatchCount); n < analytics.PatternMatchCount {
		log.Debug("pattern matches padded", logger.Int("scored", n), logger.Int("padded", analytics.PatternMatchCount-n))
	}
	uc.metrics.ObserveStage(StageDecide, time.Since(t))

	t = time.Now()
	out := buildOutput(outputInput{
		snap:      snap,
		table:     table,
		scalars:   w.Scalars,
		tilt:      tilt,
		expansion: expansion,
		moves:     moves,
		geometry:  enc.geometry,
		matches:   matches,
		manifest:  bundle.Manifest,
		now:       uc.now(),
	})
	uc.metrics.ObserveStage(StageOutput, time.Since(t))

	if uc.sink != nil {
		t = time.Now()
		if err := uc.sink.Write(ctx, runID, out); err != nil {
			return nil, fmt.Errorf("write forecast: %w", err)
		}
		uc.metrics.ObserveStage(StageSink, time.Since(t))
	}
	return out, nil
}

type encodings struct {
	temporal models.TemporalEmbedding
	surface  models.SurfaceEmbedding
	geometry models.GeometryEmbedding
	history  []models.GeometryEmbedding
}

// encodeAll runs the three encoders concurrently over the immutable table.
// The geometry branch also embeds the earlier non-overlapping windows used
// for pattern similarity.
func encodeAll(ctx context.Context, b *service.ModelBundle, table *models.FeatureTable, w *models.SampleWindows) (*encodings, error) {
	type item struct {
		name string
		fn   func(*encodings)
	}
	ch := make(chan item, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		z := b.Temporal.Encode(&w.Temporal)
		ch <- item{"temporal", func(e *encodings) { e.temporal = z }}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		z := b.Surface.Encode(&w.Surface)
		ch <- item{"surface", func(e *encodings) { e.surface = z }}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		z := b.Geometry.Encode(&w.Geometry)
		hist := historicalGeometry(b.Geometry, table, w.Index)
		ch <- item{"geometry", func(e *encodings) { e.geometry, e.history = z, hist }}
	}()

	go func() { wg.Wait(); close(ch) }()

	out := &encodings{}
	seen := 0
	for it := range ch {
		it.fn(out)
		seen++
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seen != 3 {
		return nil, errors.New("encode: missing branch output")
	}
	return out, nil
}

// historicalGeometry embeds every full geometry window that ends at least one
// window before end, stepping by the window length so they never overlap.
func historicalGeometry(enc service.GeometryEncoder, table *models.FeatureTable, end int) []models.GeometryEmbedding {
	const step = models.GeometryLookback
	var out []models.GeometryEmbedding
	for e := step - 1; e <= end-step; e += step {
		v := features.BuildGeometryVector(table, e, features.DefaultGeometryWindow)
		out = append(out, enc.Encode(&v))
	}
	return out
}

type nopMetrics struct{}

func (nopMetrics) ObserveStage(string, time.Duration) {}
func (nopMetrics) RecordForecast(models.Label)        {}
func (nopMetrics) RecordError(string)                 {}
