// Package monitoring - prometheus.go is the machine-readable export.
//
// DESIGN: Every gateway instance owns a private Prometheus registry so
// parallel instances in one test process never collide. The /metrics
// endpoint serves exactly: per-service breaker state and health
// gauges, request counters by service and outcome, call latency
// histograms, and cache size, plus Go runtime collectors.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Breaker state gauge values.
const (
	breakerGaugeClosed   = 0
	breakerGaugeOpen     = 1
	breakerGaugeHalfOpen = 2
)

// Health gauge values.
const (
	healthGaugeUnknown   = -1
	healthGaugeUnhealthy = 0
	healthGaugeHealthy   = 1
)

// PromMetrics holds the gateway's Prometheus collectors.
type PromMetrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	serviceHealth      *prometheus.GaugeVec
	cacheEntries       prometheus.Gauge
	batchesTotal       prometheus.Counter
	batchItemsTotal    prometheus.Counter
}

// NewPromMetrics creates and registers all gateway collectors on a
// fresh registry.
func NewPromMetrics() *PromMetrics {
	m := &PromMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Routed calls by service and outcome",
		}, []string{"service", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Routed call latency by service",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half_open)",
		}, []string{"service"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker transitions by service and target state",
		}, []string{"service", "to"}),
		serviceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "service_health",
			Help:      "Polled health per service (1 healthy, 0 unhealthy, -1 unknown)",
		}, []string{"service"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "cache_entries",
			Help:      "Current number of response cache entries",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "batches_total",
			Help:      "Completed batch calls",
		}),
		batchItemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "batch_items_total",
			Help:      "Individual requests routed through batches",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.breakerState,
		m.breakerTransitions,
		m.serviceHealth,
		m.cacheEntries,
		m.batchesTotal,
		m.batchItemsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for tests.
func (m *PromMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one routed call outcome. Outcome is "success",
// "cache_hit", or an error class string.
func (m *PromMetrics) ObserveRequest(service, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(service, outcome).Inc()
	m.requestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetBreakerState updates the state gauge for a service.
func (m *PromMetrics) SetBreakerState(service, state string) {
	var v float64
	switch state {
	case "open":
		v = breakerGaugeOpen
	case "half_open":
		v = breakerGaugeHalfOpen
	default:
		v = breakerGaugeClosed
	}
	m.breakerState.WithLabelValues(service).Set(v)
}

// IncBreakerTransition counts a transition into the given state.
func (m *PromMetrics) IncBreakerTransition(service, to string) {
	m.breakerTransitions.WithLabelValues(service, to).Inc()
}

// SetServiceHealth updates the health gauge for a service.
func (m *PromMetrics) SetServiceHealth(service, status string) {
	var v float64
	switch status {
	case "healthy":
		v = healthGaugeHealthy
	case "unhealthy":
		v = healthGaugeUnhealthy
	default:
		v = healthGaugeUnknown
	}
	m.serviceHealth.WithLabelValues(service).Set(v)
}

// SetCacheEntries updates the cache size gauge.
func (m *PromMetrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// ObserveBatch counts a completed batch and its items.
func (m *PromMetrics) ObserveBatch(items int) {
	m.batchesTotal.Inc()
	m.batchItemsTotal.Add(float64(items))
}

// RemoveService drops all per-service series for an unregistered
// service so stale gauges stop being scraped.
func (m *PromMetrics) RemoveService(service string) {
	labels := prometheus.Labels{"service": service}
	m.requestsTotal.DeletePartialMatch(labels)
	m.requestDuration.DeletePartialMatch(labels)
	m.breakerState.DeletePartialMatch(labels)
	m.breakerTransitions.DeletePartialMatch(labels)
	m.serviceHealth.DeletePartialMatch(labels)
}
