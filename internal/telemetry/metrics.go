// Package telemetry provides observability primitives for the llmgate gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	UpstreamDuration  *prometheus.HistogramVec
	UpstreamErrors    *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	RateLimitRejects  *prometheus.CounterVec
	BudgetRejects     *prometheus.CounterVec
	CircuitState      *prometheus.GaugeVec
	CircuitTrips      *prometheus.CounterVec
	FailoverAttempts  *prometheus.CounterVec
	TokensProcessed   *prometheus.CounterVec
	CostAccrued       *prometheus.CounterVec
	UsageQueueDropped prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "requests_total",
			Help:      "Total number of gateway requests.",
		}, []string{"task_type", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "llmgate",
			Name:                            "request_duration_seconds",
			Help:                            "End-to-end request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"task_type"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "llmgate",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider", "kind"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"class"}),

		BudgetRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "budget_rejects_total",
			Help:      "Total budget rejections.",
		}, []string{"dimension"}),

		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per model (0=closed, 1=open, 2=half-open).",
		}, []string{"model"}),

		CircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "circuit_trips_total",
			Help:      "Total circuit breaker trips.",
		}, []string{"model"}),

		FailoverAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "failover_attempts_total",
			Help:      "Total failover attempts after a primary model failure.",
		}, []string{"from_model"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model"}),

		CostAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "cost_accrued_usd_total",
			Help:      "Total estimated spend in USD.",
		}, []string{"model"}),

		UsageQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmgate",
			Name:      "usage_queue_dropped_total",
			Help:      "Total usage records evicted from a full queue.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.BudgetRejects,
		m.CircuitState,
		m.CircuitTrips,
		m.FailoverAttempts,
		m.TokensProcessed,
		m.CostAccrued,
		m.UsageQueueDropped,
	)

	return m
}
