// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationLatency tracks end-to-end generation latency in seconds.
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_generation_latency_seconds",
			Help:    "End-to-end generation latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model", "cache_status"},
	)

	// TokenUsageTotal tracks the total number of tokens consumed.
	TokenUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_token_usage_total",
			Help: "Total number of tokens consumed.",
		},
		[]string{"provider", "model", "direction"}, // direction: "input" or "output"
	)

	// EstimatedCostTotal tracks the cumulative estimated spend in USD.
	EstimatedCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_estimated_cost_usd_total",
			Help: "Cumulative estimated generation cost in US dollars.",
		},
		[]string{"provider"},
	)

	// GenerationsTotal tracks generation requests by final status.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_generations_total",
			Help: "Total generation requests by status.",
		},
		[]string{"status"}, // "success", "error", "cache_hit"
	)

	// ProviderAttemptsTotal tracks per-provider attempts by outcome.
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_provider_attempts_total",
			Help: "Provider call attempts by outcome.",
		},
		[]string{"provider", "outcome"}, // "success", "rate_limited", "error"
	)

	// CacheHitsTotal tracks the total number of response cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_cache_hits_total",
			Help: "Total number of response cache hits.",
		},
	)

	// CacheLookupsTotal tracks the total number of response cache lookups.
	CacheLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_cache_lookups_total",
			Help: "Total number of response cache lookups.",
		},
	)

	// CacheHitRatio is a derived gauge: cache_hits_total / cache_lookups_total.
	// Prometheus can compute this in queries, but we also expose it for
	// convenience on dashboards.
	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_cache_hit_ratio",
			Help: "Current response cache hit ratio (hits / lookups).",
		},
	)

	// CircuitBreakerState tracks the current state of each client's breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"client"},
	)

	// RateLimitedTotal counts calls rejected by the local sliding window.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_rate_limited_total",
			Help: "Calls rejected locally by the sliding-window rate limiter.",
		},
		[]string{"client"},
	)

	// ActiveRequests tracks the number of currently in-flight generations.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llm_active_requests",
			Help: "Number of currently in-flight generation requests.",
		},
	)

	lookupMu     sync.Mutex
	totalHits    float64
	totalLookups float64
)

// RecordCacheLookup records a response cache lookup and refreshes the
// derived hit-ratio gauge. Called from concurrent request handlers.
func RecordCacheLookup(hit bool) {
	CacheLookupsTotal.Inc()
	if hit {
		CacheHitsTotal.Inc()
	}

	lookupMu.Lock()
	totalLookups++
	if hit {
		totalHits++
	}
	CacheHitRatio.Set(totalHits / totalLookups)
	lookupMu.Unlock()
}
