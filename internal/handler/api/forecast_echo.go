package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/internal/service/metrics"
	"OmniSpectrum/internal/service/ratelimit"
	"OmniSpectrum/internal/usecase"
	xhttp "OmniSpectrum/pkg/http"
	xlogger "OmniSpectrum/pkg/logger"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type HistoryRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type TrainRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type RefreshResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    *models.ForecastOutput `json:"data"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ForecastEchoHandler serves the dashboard API.
type ForecastEchoHandler struct {
	logger  *xlogger.Logger
	query   *usecase.ForecastQueryUseCase
	refresh *usecase.RefreshUseCase
	trainer usecase.TrainScheduler
	hub     *Hub
	rl      *ratelimit.Limiter
	checks  map[string]HealthCheck
	now     func() time.Time
}

// NewForecastEchoHandler builds the handler. trainer and hub may be nil,
// which disables the corresponding routes.
func NewForecastEchoHandler(
	logger *xlogger.Logger,
	query *usecase.ForecastQueryUseCase,
	refresh *usecase.RefreshUseCase,
	trainer usecase.TrainScheduler,
	hub *Hub,
	rl *ratelimit.Limiter,
) *ForecastEchoHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ForecastEchoHandler{
		logger:  logger,
		query:   query,
		refresh: refresh,
		trainer: trainer,
		hub:     hub,
		rl:      rl,
		checks:  map[string]HealthCheck{},
		now:     time.Now,
	}
}

// AddHealthCheck registers a named dependency probe for /api/health.
func (h *ForecastEchoHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/omnispectrum", h.Latest)
	g.GET("/omnispectrum/history", h.History)
	g.POST("/omnispectrum/refresh", h.Refresh, h.limit("refresh"))
	if h.trainer != nil {
		g.POST("/omnispectrum/train", h.Train, h.limit("train"))
	}
	if h.hub != nil {
		e.GET("/ws/omnispectrum", h.hub.Serve)
	}
}

// limit applies the per-client token bucket for one endpoint.
func (h *ForecastEchoHandler) limit(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.rl != nil && !h.rl.Allow(c.RealIP()+":"+endpoint) {
				h.logger.Warn("rate limited",
					xlogger.String("endpoint", endpoint),
					xlogger.String("remote", c.RealIP()),
				)
				metrics.APIErrors.WithLabelValues(endpoint, "ERR_RATE_LIMITED").Inc()
				return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests, retry later"))
			}
			return next(c)
		}
	}
}

// Latest returns the stored document as-is; the dashboard consumes it
// without an envelope.
func (h *ForecastEchoHandler) Latest(c echo.Context) error {
	defer observe("latest", time.Now())

	out, err := h.query.Latest(c.Request().Context())
	if err != nil {
		return h.fail(c, "latest", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=300")
	return c.JSON(http.StatusOK, out)
}

func (h *ForecastEchoHandler) Refresh(c echo.Context) error {
	defer observe("refresh", time.Now())

	res, err := h.refresh.Refresh(c.Request().Context())
	if err != nil {
		return h.fail(c, "refresh", err)
	}
	if res.Fresh {
		return c.JSON(http.StatusOK, RefreshResponse{Success: true, Message: "Inference completed", Data: res.Output})
	}

	msg := "Inference failed, returning cached data"
	if errors.Is(res.Cause, usecase.ErrRefreshInProgress) {
		msg = "Refresh already running, returning cached data"
	}
	h.logger.Warn("refresh served stored forecast", xlogger.Error(res.Cause))
	return c.JSON(http.StatusOK, RefreshResponse{Success: false, Message: msg, Data: res.Output})
}

func (h *ForecastEchoHandler) History(c echo.Context) error {
	defer observe("history", time.Now())

	req := &HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return h.fail(c, "history", xhttp.BadRequestError("ERR_INVALID_LIMIT", "limit",
			fmt.Sprintf("limit must be an integer between 1 and %d", usecase.MaxHistoryLimit)).
			WithParams(map[string]interface{}{"min": 1, "max": usecase.MaxHistoryLimit}))
	}
	res, err := h.query.History(c.Request().Context(), usecase.HistoryParams{Limit: req.Limit})
	if err != nil {
		return h.fail(c, "history", err)
	}
	return xhttp.ListResponse(c, res.Records, int64(res.Count))
}

func (h *ForecastEchoHandler) Train(c echo.Context) error {
	defer observe("train", time.Now())

	req := &TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id, err := h.trainer.Schedule(c.Request().Context(), usecase.TrainJobPayload{
		RequestedBy: c.RealIP(),
		Reason:      req.Reason,
	})
	if err != nil {
		return h.fail(c, "train", err)
	}
	return xhttp.AcceptedResponse(c, map[string]string{"job_id": id})
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	res := HealthResponse{Status: "ok", Timestamp: h.now().UTC().Format(time.RFC3339)}
	if len(h.checks) > 0 {
		res.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				res.Checks[name] = err.Error()
				res.Status = "degraded"
				continue
			}
			res.Checks[name] = "ok"
		}
	}
	if res.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := toAppError(err)
	metrics.APIErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" failed", xlogger.String("code", appErr.Code), xlogger.Error(err))
	} else {
		h.logger.Warn(endpoint+" rejected", xlogger.String("code", appErr.Code), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// toAppError maps pipeline errors to API error codes.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var e *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrCacheMissing):
		e = xhttp.ServiceUnavailableError("ERR_CACHE_MISSING", "market data cache is not available")
	case errors.Is(err, models.ErrCacheInvalid):
		e = xhttp.UnprocessableError("ERR_CACHE_INVALID", "market data cache is malformed")
	case errors.Is(err, models.ErrInsufficientHistory):
		e = xhttp.UnprocessableError("ERR_INSUFFICIENT_HISTORY", "not enough history to forecast")
	case errors.Is(err, models.ErrModelLoad):
		e = xhttp.InternalError("ERR_MODEL_LOAD", "models could not be loaded")
	case errors.Is(err, models.ErrNoForecast):
		e = xhttp.NotFoundError("ERR_NO_FORECAST", "no forecast has been produced yet")
	case errors.Is(err, usecase.ErrHistoryUnavailable):
		e = xhttp.ServiceUnavailableError("ERR_HISTORY_UNAVAILABLE", "forecast history is not configured")
	case errors.Is(err, usecase.ErrTrainingInProgress):
		e = xhttp.ConflictError("ERR_TRAINING_IN_PROGRESS", "a training run is already active")
	case errors.Is(err, usecase.ErrRefreshInProgress):
		e = xhttp.ConflictError("ERR_REFRESH_IN_PROGRESS", "a refresh is already running")
	case errors.Is(err, context.DeadlineExceeded):
		e = xhttp.GatewayTimeoutError("ERR_TIMEOUT", "forecast timed out")
	default:
		e = xhttp.InternalError("ERR_INTERNAL", "forecast failed")
	}
	return e.WithError(err)
}
