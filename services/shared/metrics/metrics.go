// Package metrics provides Prometheus metrics collection for the login service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common labels used across metrics.
const (
	LabelService   = "service"
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelStatus    = "status"
	LabelUpstream  = "upstream"
	LabelComponent = "component"
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
)

// Metrics contains all Prometheus metrics for a service.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Identity provider metrics
	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	// Handshake metrics
	handshakeResults *prometheus.CounterVec

	// Circuit breaker metrics
	circuitBreakerState *prometheus.GaugeVec
	circuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	rateLimitHits    *prometheus.CounterVec
	rateLimitDropped *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	ServiceName string
	Namespace   string
	Subsystem   string
}

// New creates a new Metrics instance backed by its own registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "ghlogin"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: cfg.ServiceName,
		registry:    registry,
	}

	factory := promauto.With(registry)

	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed.",
		},
	)

	m.upstreamRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_requests_total",
			Help:      "Total number of identity provider requests.",
		},
		[]string{LabelUpstream, LabelMethod, LabelStatus},
	)

	m.upstreamRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_request_duration_seconds",
			Help:      "Identity provider request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelUpstream, LabelMethod},
	)

	m.handshakeResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "handshake_results_total",
			Help:      "Handshake operations by outcome.",
		},
		[]string{LabelOperation, LabelOutcome},
	)

	m.circuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
		[]string{LabelComponent},
	)

	m.circuitBreakerTrips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of circuit breaker trips.",
		},
		[]string{LabelComponent},
	)

	m.rateLimitHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit checks.",
		},
		[]string{LabelPath},
	)

	m.rateLimitDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rate_limit_dropped_total",
			Help:      "Total number of requests dropped due to rate limiting.",
		},
		[]string{LabelPath},
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// --- HTTP Metrics ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(m.serviceName, method, path, statusStr).Inc()
	m.httpRequestDuration.WithLabelValues(m.serviceName, method, path, statusStr).Observe(duration.Seconds())
}

// HTTPRequestsInFlight increments/decrements in-flight request counter.
func (m *Metrics) HTTPRequestsInFlight(delta float64) {
	m.httpRequestsInFlight.Add(delta)
}

// --- Upstream Metrics ---

// RecordUpstreamRequest records an identity provider request. A status of 0
// means no response was received.
func (m *Metrics) RecordUpstreamRequest(upstream, method string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(upstream, method, statusStr).Inc()
	m.upstreamRequestDuration.WithLabelValues(upstream, method).Observe(duration.Seconds())
}

// --- Handshake Metrics ---

// RecordHandshake records the outcome of a handshake operation.
func (m *Metrics) RecordHandshake(operation, outcome string) {
	m.handshakeResults.WithLabelValues(operation, outcome).Inc()
}

// --- Circuit Breaker Metrics ---

// SetCircuitBreakerState sets the circuit breaker state.
func (m *Metrics) SetCircuitBreakerState(component string, state int) {
	m.circuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip.
func (m *Metrics) RecordCircuitBreakerTrip(component string) {
	m.circuitBreakerTrips.WithLabelValues(component).Inc()
}

// --- Rate Limiter Metrics ---

// RecordRateLimitHit records a rate limit check.
func (m *Metrics) RecordRateLimitHit(path string) {
	m.rateLimitHits.WithLabelValues(path).Inc()
}

// RecordRateLimitDrop records a dropped request due to rate limiting.
func (m *Metrics) RecordRateLimitDrop(path string) {
	m.rateLimitDropped.WithLabelValues(path).Inc()
}

// --- Middleware ---

// PathFunc resolves the label used for a request path. Routers supply one so
// that label cardinality stays bounded.
type PathFunc func(r *http.Request) string

// HTTPMiddleware returns an HTTP middleware that records request metrics.
func (m *Metrics) HTTPMiddleware(pathFn PathFunc) func(http.Handler) http.Handler {
	if pathFn == nil {
		pathFn = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight(1)
			defer m.HTTPRequestsInFlight(-1)

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(r.Method, pathFn(r), wrapped.status, time.Since(start))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
