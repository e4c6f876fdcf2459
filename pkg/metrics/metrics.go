package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragrelay/ragrelay/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resilience metrics
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	FallbackExecutions *prometheus.CounterVec
	DegradationLevel   *prometheus.GaugeVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec

	// Search metrics
	SearchesTotal  *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "ragrelay",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a private
// registry so multiple instances can coexist in tests.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "service_requests_total",
				Help:      "Total number of fault-tolerant service requests",
			},
			[]string{"service", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "service_request_duration_seconds",
				Help:      "Fault-tolerant service request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"service", "to"},
		),
		FallbackExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "fallback_executions_total",
				Help:      "Total number of fallback provider executions",
			},
			[]string{"service", "provider", "outcome"},
		),
		DegradationLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "degradation_level",
				Help:      "Current degradation level (0=full service)",
			},
			[]string{"service"},
		),

		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "cache_operations_total",
				Help:      "Total number of fallback cache operations",
			},
			[]string{"operation", "result"},
		),

		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "searches_total",
				Help:      "Total number of search requests",
			},
			[]string{"provider", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "search_duration_seconds",
				Help:      "Search request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RequestsTotal,
		m.RequestDuration,
		m.BreakerState,
		m.BreakerTransitions,
		m.FallbackExecutions,
		m.DegradationLevel,
		m.CacheOperations,
		m.SearchesTotal,
		m.SearchDuration,
	)

	return m
}

// RecordRequest implements resilience.Observer
func (m *Metrics) RecordRequest(service, outcome string, duration time.Duration) {
	if m.RequestsTotal == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(service, outcome).Inc()
	m.RequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordBreakerState implements resilience.Observer
func (m *Metrics) RecordBreakerState(service string, state resilience.CircuitState) {
	if m.BreakerState == nil {
		return
	}
	m.BreakerState.WithLabelValues(service).Set(float64(state))
	m.BreakerTransitions.WithLabelValues(service, state.String()).Inc()
}

// RecordFallback implements resilience.Observer
func (m *Metrics) RecordFallback(service, provider, outcome string) {
	if m.FallbackExecutions == nil {
		return
	}
	m.FallbackExecutions.WithLabelValues(service, provider, outcome).Inc()
}

// RecordDegradationLevel implements resilience.Observer
func (m *Metrics) RecordDegradationLevel(service string, level int) {
	if m.DegradationLevel == nil {
		return
	}
	m.DegradationLevel.WithLabelValues(service).Set(float64(level))
}

// RecordSearch records a search request outcome
func (m *Metrics) RecordSearch(provider, status string, duration time.Duration) {
	if m.SearchesTotal == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(provider, status).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordCacheOperation records a fallback cache operation
func (m *Metrics) RecordCacheOperation(operation, result string) {
	if m.CacheOperations == nil {
		return
	}
	m.CacheOperations.WithLabelValues(operation, result).Inc()
}

// GinMiddleware returns a Gin middleware that records HTTP metrics
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsTotal == nil {
			c.Next()
			return
		}

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler returns an HTTP handler that serves the metrics endpoint
func (m *Metrics) Handler() gin.HandlerFunc {
	if m.registry == nil {
		return func(c *gin.Context) {
			c.String(200, "metrics disabled")
		}
	}
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
