// Package metrics exposes Prometheus collectors for the sandbox controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kapsel_sessions_created_total",
			Help: "Total number of sessions successfully created",
		},
	)

	SessionsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kapsel_sessions_released_total",
			Help: "Total number of sessions released",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kapsel_sessions_active",
			Help: "Number of sessions currently ready or executing",
		},
	)

	SessionCreateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapsel_session_create_failures_total",
			Help: "Session creation failures by reason",
		},
		[]string{"reason"},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapsel_executions_total",
			Help: "Total executions dispatched to workers, by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kapsel_execution_duration_seconds",
			Help:    "Wall time of Execute calls, request send to stream end",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	OrphansReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kapsel_orphan_containers_reaped_total",
			Help: "Orphan worker containers stopped and removed",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kapsel_api_requests_total",
			Help: "API requests by method, path pattern and status code",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsCreated,
		SessionsReleased,
		SessionsActive,
		SessionCreateFailures,
		ExecutionsTotal,
		ExecutionDuration,
		OrphansReaped,
		APIRequestsTotal,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
