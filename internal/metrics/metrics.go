// Package metrics provides Prometheus instrumentation for the failover
// manager. All metric collectors are registered on init via the Init function
// and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProbesTotal counts health probe executions by connection and result.
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_probes_total",
			Help: "Total health probes executed",
		},
		[]string{"connection", "result"},
	)

	// ProbeDuration observes health probe latency in seconds by connection.
	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbfailover_probe_duration_seconds",
			Help:    "Health probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connection"},
	)

	// ConnectionStatus tracks the last persisted health status per connection.
	ConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbfailover_connection_status",
			Help: "Persisted connection health status (1 healthy, 0 unknown, -1 down)",
		},
		[]string{"connection"},
	)

	// ConsecutiveFailures tracks the persisted failure streak per connection.
	ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbfailover_consecutive_failures",
			Help: "Consecutive failed probes persisted per connection",
		},
		[]string{"connection"},
	)

	// SwitchesTotal counts active connection switches by target connection.
	SwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_switches_total",
			Help: "Total active connection switches",
		},
		[]string{"target"},
	)

	// EventsTotal counts emitted failover events by kind.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_events_total",
			Help: "Total failover events emitted",
		},
		[]string{"kind"},
	)

	// CacheErrors counts health state store failures by operation.
	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_cache_errors_total",
			Help: "Total health state store operation failures",
		},
		[]string{"op"},
	)

	// LimitedMode reports whether the manager is routing to the blocking
	// connection (1) or serving a real database (0).
	LimitedMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbfailover_limited_mode",
			Help: "Whether limited functionality mode is active (1 active, 0 inactive)",
		},
	)

	// AdminAuthFailures counts admin API authentication failures by reason.
	AdminAuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_admin_auth_failures_total",
			Help: "Total admin API authentication failures",
		},
		[]string{"reason"},
	)

	// AdminRateLimitHits counts admin API rate limit rejections by route.
	AdminRateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_admin_rate_limit_hits_total",
			Help: "Total admin API rate limit rejections",
		},
		[]string{"route"},
	)

	// BreakerState reports the record store circuit breaker state per
	// component (0 closed, 1 open, 2 half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbfailover_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfailover_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before the first check cycle.
func Init() {
	prometheus.MustRegister(
		ProbesTotal,
		ProbeDuration,
		ConnectionStatus,
		ConsecutiveFailures,
		SwitchesTotal,
		EventsTotal,
		CacheErrors,
		LimitedMode,
		AdminAuthFailures,
		AdminRateLimitHits,
		BreakerState,
		BreakerTransitions,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
