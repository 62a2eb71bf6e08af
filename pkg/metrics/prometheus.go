package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"OmniSpectrum/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	stageLatency *prometheus.HistogramVec
	forecasts    *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastRun      prometheus.Gauge
}

// New creates a recorder registered with reg; nil means the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		stageLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "omnispectrum_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		forecasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnispectrum_forecasts_total",
				Help: "Forecasts produced, by most likely direction",
			},
			[]string{"direction"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omnispectrum_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "omnispectrum_last_forecast_timestamp_seconds",
			Help: "Unix time of the last successful forecast",
		}),
	}
}

// ObserveStage records the duration of one pipeline stage.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordForecast counts a finished forecast by its argmax direction.
func (r *Recorder) RecordForecast(direction models.Label) {
	r.forecasts.WithLabelValues(direction.String()).Inc()
	r.lastRun.SetToCurrentTime()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
