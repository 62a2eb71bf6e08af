package repository

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"OmniSpectrum/internal/domain/models"
	domrepo "OmniSpectrum/internal/domain/repository"
	"OmniSpectrum/internal/services/marketdata"
	xhttp "OmniSpectrum/pkg/http"
	applogger "OmniSpectrum/pkg/logger"
)

// FileSnapshotSource reads the cache document from a local JSON file.
type FileSnapshotSource struct {
	path   string
	symbol string
	l      *applogger.Logger
}

func NewFileSnapshotSource(path, symbol string, l *applogger.Logger) *FileSnapshotSource {
	if l == nil {
		l = applogger.Nop()
	}
	return &FileSnapshotSource{path: path, symbol: symbol, l: l}
}

func (s *FileSnapshotSource) Load(ctx context.Context) (*models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError("load cache", models.ErrCacheMissing, "%s not found", s.path)
		}
		return nil, models.WrapError("load cache", models.ErrCacheMissing, err)
	}
	snap, err := marketdata.Decode(data, s.symbol)
	if err != nil {
		return nil, err
	}
	s.l.Debug("cache document loaded",
		applogger.String("path", s.path),
		applogger.String("summary", marketdata.Describe(snap)),
	)
	return snap, nil
}

// HTTPSnapshotSource fetches the cache document from a URL. It revalidates
// with If-None-Match and reuses the last snapshot on 304.
type HTTPSnapshotSource struct {
	url    string
	symbol string
	client *xhttp.Client
	l      *applogger.Logger

	mu   sync.Mutex
	etag string
	last *models.MarketSnapshot
}

func NewHTTPSnapshotSource(url, symbol string, timeout time.Duration, l *applogger.Logger) *HTTPSnapshotSource {
	if l == nil {
		l = applogger.Nop()
	}
	return &HTTPSnapshotSource{
		url:    url,
		symbol: symbol,
		client: xhttp.NewClient(xhttp.WithTimeout(timeout)),
		l:      l,
	}
}

func (s *HTTPSnapshotSource) Load(ctx context.Context) (*models.MarketSnapshot, error) {
	s.mu.Lock()
	etag, last := s.etag, s.last
	s.mu.Unlock()

	headers := map[string]string{"Accept": "application/json"}
	if etag != "" && last != nil {
		headers["If-None-Match"] = etag
	}
	resp, err := s.client.Do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: s.url, Headers: headers})
	if err != nil {
		return nil, models.WrapError("fetch cache", models.ErrCacheMissing, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && last != nil:
		s.l.Debug("cache document not modified", applogger.String("url", s.url))
		return last, nil
	case !resp.OK():
		return nil, models.NewError("fetch cache", models.ErrCacheMissing, "%s returned %d", s.url, resp.StatusCode)
	}

	snap, err := marketdata.Decode(resp.Body, s.symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.etag, s.last = resp.Header.Get("ETag"), snap
	s.mu.Unlock()

	s.l.Debug("cache document fetched",
		applogger.String("url", s.url),
		applogger.String("summary", marketdata.Describe(snap)),
	)
	return snap, nil
}

// StoreSnapshotSource builds a snapshot from the latest stored bars. Quote
// context is absent, so the output document falls back to close and the
// default VIX.
type StoreSnapshotSource struct {
	store  domrepo.CandleStore
	symbol string
	bars   int
}

func NewStoreSnapshotSource(store domrepo.CandleStore, symbol string, bars int) *StoreSnapshotSource {
	return &StoreSnapshotSource{store: store, symbol: symbol, bars: bars}
}

func (s *StoreSnapshotSource) Load(ctx context.Context) (*models.MarketSnapshot, error) {
	bars, err := s.store.LatestBars(ctx, s.symbol, s.bars)
	if err != nil {
		return nil, models.WrapError("load bars", models.ErrCacheMissing, err)
	}
	if len(bars) == 0 {
		return nil, models.NewError("load bars", models.ErrCacheMissing, "no bars stored for %s", s.symbol)
	}
	if len(bars) < models.MinBars {
		return nil, models.NewError("load bars", models.ErrInsufficientHistory,
			"%d bars, need %d", len(bars), models.MinBars)
	}
	last := bars[len(bars)-1]
	return &models.MarketSnapshot{
		Series:    models.MarketSeries{Symbol: s.symbol, Bars: bars},
		Timestamp: last.Time.UTC().Format(time.RFC3339),
		Variant:   models.VariantCanonical,
	}, nil
}
