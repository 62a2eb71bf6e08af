package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/service/ratelimit"
	"OmniSpectrum/internal/usecase"
)

type storedDoc struct {
	mu  sync.Mutex
	out *models.ForecastOutput
}

func (s *storedDoc) Latest(context.Context) (*models.ForecastOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil, models.ErrNoForecast
	}
	return s.out, nil
}

type stubRunner struct {
	out *models.ForecastOutput
	err error
}

func (r stubRunner) RunInference(context.Context) (*models.ForecastOutput, error) { return r.out, r.err }

type stubScheduler struct {
	id  string
	err error
}

func (s stubScheduler) Schedule(context.Context, usecase.TrainJobPayload) (string, error) {
	return s.id, s.err
}

type stubHistory struct{}

func (stubHistory) Recent(_ context.Context, symbol string, limit int) ([]models.ForecastRecord, error) {
	return []models.ForecastRecord{{RunID: "r1", Symbol: symbol}}, nil
}

type fixture struct {
	stored  *storedDoc
	runner  *stubRunner
	handler *ForecastEchoHandler
	e       *echo.Echo
}

func newFixture(t *testing.T, rl *ratelimit.Limiter, sched usecase.TrainScheduler) *fixture {
	t.Helper()
	f := &fixture{stored: &storedDoc{}, runner: &stubRunner{}}
	query := usecase.NewForecastQueryUseCase("NIFTY", stubHistory{}, f.stored)
	refresh := usecase.NewRefreshUseCase(f.runner, query, nil, "NIFTY", 0, nil)
	f.handler = NewForecastEchoHandler(nil, query, refresh, sched, NewHub(nil, f.stored, time.Second), rl)
	f.e = echo.New()
	f.handler.RegisterRoutes(f.e)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Data []struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data)
	return body.Data[0].Code
}

func TestLatest(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(http.MethodGet, "/api/omnispectrum", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ERR_NO_FORECAST", errorCode(t, rec))

	f.stored.out = &models.ForecastOutput{Close: 23456.7}
	rec = f.do(http.MethodGet, "/api/omnispectrum", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get(echo.HeaderCacheControl))

	var got models.ForecastOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 23456.7, got.Close)
}

func TestRefresh(t *testing.T) {
	cases := []struct {
		name        string
		runErr      error
		stored      bool
		wantStatus  int
		wantSuccess bool
		wantCode    string
	}{
		{"fresh", nil, false, http.StatusOK, true, ""},
		{"fallback to stored", errors.New("boom"), true, http.StatusOK, false, ""},
		{"cache missing", models.NewError("load", models.ErrCacheMissing, "x"), false, http.StatusServiceUnavailable, false, "ERR_CACHE_MISSING"},
		{"cache invalid", models.NewError("decode", models.ErrCacheInvalid, "x"), false, http.StatusUnprocessableEntity, false, "ERR_CACHE_INVALID"},
		{"short history", models.NewError("features", models.ErrInsufficientHistory, "x"), false, http.StatusUnprocessableEntity, false, "ERR_INSUFFICIENT_HISTORY"},
		{"model load", models.NewError("load", models.ErrModelLoad, "x"), false, http.StatusInternalServerError, false, "ERR_MODEL_LOAD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.runner.out = &models.ForecastOutput{Close: 1}
			f.runner.err = tc.runErr
			if tc.stored {
				f.stored.out = &models.ForecastOutput{Close: 2}
			}

			rec := f.do(http.MethodPost, "/api/omnispectrum/refresh", "")
			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, errorCode(t, rec))
				return
			}
			var body RefreshResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantSuccess, body.Success)
			require.NotNil(t, body.Data)
		})
	}
}

func TestRefreshRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.New(1, 1), nil)
	f.runner.out = &models.ForecastOutput{}

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/omnispectrum/refresh", "").Code)
	rec := f.do(http.MethodPost, "/api/omnispectrum/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "ERR_RATE_LIMITED", errorCode(t, rec))
}

func TestTrain(t *testing.T) {
	f := newFixture(t, nil, stubScheduler{id: "job-1"})
	rec := f.do(http.MethodPost, "/api/omnispectrum/train", `{"reason":"weekly"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")

	f = newFixture(t, nil, stubScheduler{err: usecase.ErrTrainingInProgress})
	rec = f.do(http.MethodPost, "/api/omnispectrum/train", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ERR_TRAINING_IN_PROGRESS", errorCode(t, rec))

	f = newFixture(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/omnispectrum/train", "").Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec := f.do(http.MethodGet, "/api/omnispectrum/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Rows  []models.ForecastRecord `json:"rows"`
			Total int64                   `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Data.Total)
	assert.Equal(t, "NIFTY", body.Data.Rows[0].Symbol)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/omnispectrum/history?limit=1000", "").Code)

	for _, q := range []string{"limit=5000", "limit=-3", "limit=abc"} {
		rec = f.do(http.MethodGet, "/api/omnispectrum/history?"+q, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
		var bad struct {
			Data []struct {
				Code   string         `json:"code"`
				Field  string         `json:"field"`
				Params map[string]any `json:"params"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bad))
		require.Len(t, bad.Data, 1)
		assert.Equal(t, "ERR_INVALID_LIMIT", bad.Data[0].Code)
		assert.Equal(t, "limit", bad.Data[0].Field)
		assert.Equal(t, 1000.0, bad.Data[0].Params["max"])
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status int            `json:"status"`
		Data   HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusOK, body.Status)
	assert.Equal(t, "ok", body.Data.Status)

	f.handler.AddHealthCheck("models", func(context.Context) error { return errors.New("not trained") })
	rec = f.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not trained")
}

func TestWebsocketReceivesForecasts(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.stored.out = &models.ForecastOutput{Close: 10}
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/omnispectrum"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap WSMessage
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, 10.0, snap.Data.Close)

	hub := f.handler.hub
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Write(context.Background(), "run-9", &models.ForecastOutput{Close: 11}))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "forecast", msg.Type)
	assert.Equal(t, "run-9", msg.RunID)
	assert.Equal(t, 11.0, msg.Data.Close)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubWriteDoesNotWaitForStalledClient(t *testing.T) {
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err == nil {
			accepted <- conn
		}
	}))
	defer srv.Close()

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer peer.Close()

	var serverConn *websocket.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no server connection")
	}

	hub := NewHub(nil, nil, time.Second)
	stalled := newWSClient(serverConn)
	for i := 0; i < wsSendBuffer; i++ {
		require.True(t, stalled.enqueue([]byte("queued")))
	}
	hub.add(stalled)

	start := time.Now()
	require.NoError(t, hub.Write(context.Background(), "run-1", &models.ForecastOutput{Close: 1}))
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-stalled.done:
	default:
		t.Fatal("stalled client should be disconnected")
	}
	assert.False(t, stalled.enqueue([]byte("late")))
}
