package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"OmniSpectrum/internal/domain/models"
	domrepo "OmniSpectrum/internal/domain/repository"
	"OmniSpectrum/pkg/cache"
	pkgkafka "OmniSpectrum/pkg/kafka"
	applogger "OmniSpectrum/pkg/logger"
	"OmniSpectrum/pkg/util"
)

// FileSink writes the latest document to a JSON file, replacing it atomically.
type FileSink struct {
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Write(_ context.Context, _ string, out *models.ForecastOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	if err := util.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Latest reads back the last written document.
func (s *FileSink) Latest(_ context.Context) (*models.ForecastOutput, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError("read forecast", models.ErrNoForecast, "%s not found", s.path)
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var out models.ForecastOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return &out, nil
}

func (s *FileSink) Close() error { return nil }

// KafkaSink publishes each document keyed by symbol, so consumers see one
// symbol's forecasts in order. The run id travels as the trace id.
type KafkaSink struct {
	producer *pkgkafka.Producer
	topic    string
	symbol   string
}

func NewKafkaSink(producer *pkgkafka.Producer, topic, symbol string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, symbol: symbol}
}

func (s *KafkaSink) Write(ctx context.Context, runID string, out *models.ForecastOutput) error {
	return s.producer.PublishJSON(pkgkafka.WithTraceID(ctx, runID), s.topic, s.symbol, out)
}

// Close is a no-op; the producer is shared and closed by the app.
func (s *KafkaSink) Close() error { return nil }

// LatestForecastKey is the cache key holding the most recent document.
func LatestForecastKey(symbol string) string {
	return cache.GenerateKeyWithParams("forecast", "latest", symbol)
}

// CacheSink keeps the most recent document in the cache so readers never
// trigger inference.
type CacheSink struct {
	c      cache.Service
	symbol string
	ttl    time.Duration
}

func NewCacheSink(c cache.Service, symbol string, ttl time.Duration) *CacheSink {
	return &CacheSink{c: c, symbol: symbol, ttl: ttl}
}

func (s *CacheSink) Write(ctx context.Context, _ string, out *models.ForecastOutput) error {
	return s.c.Set(ctx, LatestForecastKey(s.symbol), out, s.ttl)
}

// Latest returns the cached document; a miss is ErrNoForecast.
func (s *CacheSink) Latest(ctx context.Context) (*models.ForecastOutput, error) {
	out, err := cache.GetTyped[models.ForecastOutput](ctx, s.c, LatestForecastKey(s.symbol))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, models.WrapError("read forecast", models.ErrNoForecast, err)
	}
	return out, err
}

func (s *CacheSink) Close() error { return nil }

// MultiSink fans a document out to several sinks. Only the primary sink's
// error is returned; the others are logged.
type MultiSink struct {
	primary   domrepo.ForecastSink
	secondary []domrepo.ForecastSink
	l         *applogger.Logger
}

func NewMultiSink(l *applogger.Logger, primary domrepo.ForecastSink, secondary ...domrepo.ForecastSink) *MultiSink {
	if l == nil {
		l = applogger.Nop()
	}
	return &MultiSink{primary: primary, secondary: secondary, l: l}
}

// Add registers another secondary sink. Not safe for use after serving starts.
func (m *MultiSink) Add(s domrepo.ForecastSink) {
	if s != nil {
		m.secondary = append(m.secondary, s)
	}
}

func (m *MultiSink) Write(ctx context.Context, runID string, out *models.ForecastOutput) error {
	if err := m.primary.Write(ctx, runID, out); err != nil {
		return err
	}
	for _, s := range m.secondary {
		if err := s.Write(ctx, runID, out); err != nil {
			m.l.Warn("secondary forecast sink failed",
				applogger.String("run_id", runID),
				applogger.String("sink", fmt.Sprintf("%T", s)),
				applogger.Error(err),
			)
		}
	}
	return nil
}

func (m *MultiSink) Close() error {
	errs := []error{m.primary.Close()}
	for _, s := range m.secondary {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
