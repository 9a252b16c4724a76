package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	apiRequestsTotal        *prometheus.CounterVec
	apiLatencySeconds       *prometheus.HistogramVec
	apiErrorsTotal          *prometheus.CounterVec
	validationRunsTotal     *prometheus.CounterVec
	validationScore         *prometheus.HistogramVec
	validationConflicts     *prometheus.CounterVec
	validationFailuresTotal *prometheus.CounterVec
	validationEventsTotal   *prometheus.CounterVec
	validationStreamClients prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		validationRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_runs_total",
			Help: "Completed validation runs by mode and verdict.",
		}, []string{"mode", "verdict"})

		validationScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "validation_score",
			Help:    "Distribution of composite validation scores.",
			Buckets: []float64{20, 40, 60, 70, 80, 90, 100},
		}, []string{"mode"})

		validationConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_conflicts_total",
			Help: "Validation requests refused because a cycle was already in flight.",
		}, []string{"mode"})

		validationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Validation cycles aborted before a verdict was stored.",
		}, []string{"mode", "stage"})

		validationEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_events_total",
			Help: "Validation completion events delivered to stream subscribers.",
		}, []string{"origin"})

		validationStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "validation_stream_clients",
			Help: "Active websocket subscribers to the validation event stream.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			validationRunsTotal,
			validationScore,
			validationConflicts,
			validationFailuresTotal,
			validationEventsTotal,
			validationStreamClients,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// ValidationRuns counts completed runs.
func ValidationRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return validationRunsTotal
}

// ValidationScore observes composite scores.
func ValidationScore() *prometheus.HistogramVec {
	RegisterMetrics()
	return validationScore
}

// ValidationConflicts counts requests rejected by the in-flight guard.
func ValidationConflicts() *prometheus.CounterVec {
	RegisterMetrics()
	return validationConflicts
}

// ValidationFailures counts cycles that ended without a stored verdict.
func ValidationFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return validationFailuresTotal
}

// ValidationEvents counts events fanned out to local subscribers.
func ValidationEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return validationEventsTotal
}

// ValidationStreamClients tracks connected stream subscribers.
func ValidationStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return validationStreamClients
}
