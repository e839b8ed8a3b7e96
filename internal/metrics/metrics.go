// Package metrics provides Prometheus instrumentation for the copilot
// gateway. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts API requests by operation, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"operation", "method", "status"},
	)

	// RequestDuration observes API request latency in seconds by operation.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ActiveRequests tracks the number of in-flight API requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copilot_active_requests",
			Help: "Number of in-flight requests currently being processed",
		},
	)

	// ProviderCallDuration observes provider round-trip latency in seconds by
	// provider and outcome ("success", "failure").
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copilot_provider_call_duration_seconds",
			Help:    "LLM provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "outcome"},
	)

	// ProviderErrors counts provider call failures by provider and error kind.
	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_provider_errors_total",
			Help: "Total provider call failures by error kind",
		},
		[]string{"provider", "kind"},
	)

	// RetriesTotal counts retry attempts by provider and operation.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_retries_total",
			Help: "Total retry attempts against the provider",
		},
		[]string{"provider", "operation"},
	)

	// CircuitBreakerState exposes the current breaker state per provider
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "copilot_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// CircuitBreakerTransitions counts breaker state transitions.
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	// ParseFailures counts responses the extractor could not decode, by operation.
	ParseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_parse_failures_total",
			Help: "Total provider responses that failed JSON extraction",
		},
		[]string{"operation"},
	)

	// RateLimitHits counts inbound requests rejected by the per-client limit.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_rate_limit_hits_total",
			Help: "Total inbound requests rejected by rate limiting",
		},
		[]string{"path"},
	)

	// RateLimitWaits observes time spent waiting on the outbound provider
	// budget in seconds.
	RateLimitWaits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copilot_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the outbound provider rate budget",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15},
		},
	)

	// BulkheadInFlight tracks concurrent in-flight provider calls.
	BulkheadInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copilot_bulkhead_in_flight",
			Help: "Concurrent in-flight provider calls",
		},
	)

	// BulkheadRejections counts calls rejected by the concurrency limit.
	BulkheadRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copilot_bulkhead_rejections_total",
			Help: "Total provider calls rejected by the concurrency limit",
		},
	)

	// AuthFailures counts inbound authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copilot_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveRequests,
		ProviderCallDuration,
		ProviderErrors,
		RetriesTotal,
		CircuitBreakerState,
		CircuitBreakerTransitions,
		ParseFailures,
		RateLimitHits,
		RateLimitWaits,
		BulkheadInFlight,
		BulkheadRejections,
		AuthFailures,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
