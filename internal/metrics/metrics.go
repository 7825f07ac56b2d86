// Package metrics defines the Prometheus metric families the Telemetry
// Bus (C13) records against: request-duration histograms per component
// operation, per-model token and cost counters, and cache hit/miss
// counters labelled by component. No component in this module caches, so
// the cache counters move only when a caller records through the Telemetry
// Bus's RecordCacheHit and RecordCacheMiss.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private prometheus.Registry (never the global default,
// so multiple cores can run in one process without collector collisions).
type Registry struct {
	reg *prometheus.Registry

	OperationDuration *prometheus.HistogramVec // component, operation, status
	TokensTotal       *prometheus.CounterVec   // model, task_type, direction (input|output)
	CostUSDTotal      *prometheus.CounterVec   // model, provider
	CacheHitsTotal    *prometheus.CounterVec   // component
	CacheMissesTotal  *prometheus.CounterVec   // component
	RateLimitedTotal  prometheus.Counter
	CircuitState      *prometheus.GaugeVec // identifier; 0=closed, 1=open, 2=half-open
	SwarmActive        prometheus.Gauge
}

// New constructs a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_operation_duration_ms",
			Help:    "Duration of a component operation in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"component", "operation", "status"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tokens_total",
			Help: "Total tokens consumed, by model/task_type/direction",
		}, []string{"model", "task_type", "direction"}),
		CostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_cost_usd_total",
			Help: "Total estimated USD cost, by model/provider",
		}, []string{"model", "provider"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_cache_hits_total",
			Help: "Total cache hits, by component",
		}, []string{"component"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_cache_misses_total",
			Help: "Total cache misses, by component",
		}, []string{"component"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentcore_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_circuit_breaker_state",
			Help: "Circuit breaker state per identifier (0=closed, 1=open, 2=half-open)",
		}, []string{"identifier"}),
		SwarmActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_swarm_active_executions",
			Help: "Number of swarm executions currently in progress",
		}),
	}
	reg.MustRegister(
		m.OperationDuration,
		m.TokensTotal,
		m.CostUSDTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RateLimitedTotal,
		m.CircuitState,
		m.SwarmActive,
	)
	return m
}

// Handler exposes the registry in the Prometheus text exposition format,
// for an enveloping service to mount at its own /metrics route; the core
// itself serves no HTTP surface.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
