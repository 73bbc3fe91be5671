package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache Metrics
	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Total number of cache operations by backend, operation, and result",
		},
		[]string{"backend", "operation", "result"}, // result: ok, miss, error
	)

	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "core",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of live (non-expired) cache entries as of the last stats call",
		},
		[]string{"backend"},
	)

	cacheExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "cache",
			Name:      "expired_total",
			Help:      "Total number of entries removed by the active expiry sweep",
		},
		[]string{"backend"},
	)

	// Throttle Metrics
	throttleChecksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "throttle",
			Name:      "checks_total",
			Help:      "Total number of throttle checks performed",
		},
	)

	throttleDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "throttle",
			Name:      "denied_total",
			Help:      "Total number of denied requests by reason",
		},
		[]string{"reason"}, // banned, rate_limited, burst_limited, ua_rotation, storage_unavailable
	)

	throttleBansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "throttle",
			Name:      "bans_total",
			Help:      "Total number of bans issued",
		},
	)

	throttleStorageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "throttle",
			Name:      "storage_failures_total",
			Help:      "Total number of storage failures during throttle checks by failure mode",
		},
		[]string{"mode"}, // fail-open, fail-closed
	)

	throttleCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "core",
			Subsystem: "throttle",
			Name:      "check_duration_seconds",
			Help:      "Duration of throttle checks in seconds",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// Circuit Breaker Metrics
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "core",
			Subsystem: "circuitbreaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	circuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "circuitbreaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Health Check Metrics
	healthCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "core",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks performed",
		},
		[]string{"check_name", "status"},
	)

	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "core",
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of health checks in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"check_name"},
	)

	once sync.Once
)

// Init initializes and registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(cacheOperationsTotal)
		prometheus.MustRegister(cacheEntries)
		prometheus.MustRegister(cacheExpiredTotal)

		prometheus.MustRegister(throttleChecksTotal)
		prometheus.MustRegister(throttleDeniedTotal)
		prometheus.MustRegister(throttleBansTotal)
		prometheus.MustRegister(throttleStorageFailuresTotal)
		prometheus.MustRegister(throttleCheckDuration)

		prometheus.MustRegister(circuitBreakerState)
		prometheus.MustRegister(circuitBreakerTransitionsTotal)

		prometheus.MustRegister(healthCheckTotal)
		prometheus.MustRegister(healthCheckDuration)
	})
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Cache Metrics functions
func RecordCacheOperation(backend, operation, result string) {
	cacheOperationsTotal.WithLabelValues(backend, operation, result).Inc()
}

func SetCacheEntries(backend string, count int) {
	cacheEntries.WithLabelValues(backend).Set(float64(count))
}

func RecordCacheExpired(backend string, count int) {
	cacheExpiredTotal.WithLabelValues(backend).Add(float64(count))
}

// Throttle Metrics functions
func RecordThrottleCheck(duration time.Duration) {
	throttleChecksTotal.Inc()
	throttleCheckDuration.Observe(duration.Seconds())
}

func RecordThrottleDenied(reason string) {
	throttleDeniedTotal.WithLabelValues(reason).Inc()
}

func RecordThrottleBan() {
	throttleBansTotal.Inc()
}

func RecordThrottleStorageFailure(mode string) {
	throttleStorageFailuresTotal.WithLabelValues(mode).Inc()
}

// Circuit Breaker Metrics functions
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func RecordCircuitBreakerTransition(name, fromState, toState string) {
	circuitBreakerTransitionsTotal.WithLabelValues(name, fromState, toState).Inc()
}

// Health Check Metrics functions
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	healthCheckTotal.WithLabelValues(checkName, status).Inc()
	healthCheckDuration.WithLabelValues(checkName).Observe(duration.Seconds())
}
