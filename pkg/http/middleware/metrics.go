package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	applogger "OmniSpectrum/pkg/logger"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omnispectrum_http_requests_total",
		Help: "HTTP requests by route template, method and status class",
	}, []string{"route", "method", "class"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnispectrum_http_request_duration_seconds",
		Help:    "HTTP request duration",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"route", "method"})

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omnispectrum_http_in_flight_requests",
		Help: "HTTP requests being served",
	})

	httpResponseBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnispectrum_http_response_size_bytes",
		Help:    "HTTP response size",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"route"})

	registerOnce sync.Once
)

// Observe records request metrics labelled by the matched route template and
// logs every request: 5xx at error, requests slower than slow at warn, the
// rest at debug. Handler errors are committed here so the recorded status is
// the one the client sees.
func Observe(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, httpInFlight, httpResponseBytes)
	})
	if l == nil {
		l = applogger.Nop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			took := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			req, res := c.Request(), c.Response()
			httpRequests.WithLabelValues(route, req.Method, statusClass(res.Status)).Inc()
			httpDuration.WithLabelValues(route, req.Method).Observe(took.Seconds())
			httpResponseBytes.WithLabelValues(route).Observe(float64(res.Size))

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", route),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", res.Status),
				applogger.Int64("bytes", res.Size),
				applogger.Duration("duration_ms", took),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && took >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
