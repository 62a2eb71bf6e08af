package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "omnispectrum",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of forecast API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnispectrum",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by forecast API endpoint and code",
		},
		[]string{"endpoint", "code"},
	)

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "omnispectrum",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket dashboards",
		},
	)

	NotificationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnispectrum",
			Subsystem: "consumer",
			Name:      "notifications_dropped_total",
			Help:      "Cache notifications that did not trigger a refresh",
		},
		[]string{"reason"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, WSClients, NotificationsDropped)
	})
}
