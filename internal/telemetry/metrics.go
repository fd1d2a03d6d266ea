// Package telemetry provides observability primitives for opsdeck.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the dashboard data plane.
type Metrics struct {
	LoadsTotal       *prometheus.CounterVec
	VolatileHits     prometheus.Counter
	VolatileMisses   prometheus.Counter
	FallbackHits     prometheus.Counter
	FallbackMisses   prometheus.Counter
	StaleServes      *prometheus.CounterVec
	FetchesTotal     *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	RateGateRejects  *prometheus.CounterVec
	BreakerRejects   *prometheus.CounterVec
	FallbackFailures prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "loads_total",
			Help:      "Total panel load requests by outcome.",
		}, []string{"panel", "outcome"}),

		VolatileHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "volatile_cache_hits_total",
			Help:      "Total volatile cache hits.",
		}),

		VolatileMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "volatile_cache_misses_total",
			Help:      "Total volatile cache misses.",
		}),

		FallbackHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "fallback_cache_hits_total",
			Help:      "Total fresh persistent fallback cache hits.",
		}),

		FallbackMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "fallback_cache_misses_total",
			Help:      "Total persistent fallback cache misses.",
		}),

		StaleServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "stale_serves_total",
			Help:      "Total loads answered with degraded (stale) data.",
		}, []string{"panel"}),

		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "upstream_fetches_total",
			Help:      "Total live upstream fetches by result.",
		}, []string{"panel", "result"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "opsdeck",
			Name:                            "upstream_fetch_duration_seconds",
			Help:                            "Live upstream fetch duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"panel"}),

		RateGateRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "rate_gate_rejects_total",
			Help:      "Total fetches suppressed by the minimum-interval gate.",
		}, []string{"panel"}),

		BreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "breaker_rejects_total",
			Help:      "Total fetches short-circuited by an open circuit breaker.",
		}, []string{"panel"}),

		FallbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "fallback_store_failures_total",
			Help:      "Total persistent store errors swallowed as cache misses.",
		}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsdeck",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "opsdeck",
			Name:                            "http_request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "route"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsdeck",
			Name:      "http_active_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.LoadsTotal,
		m.VolatileHits, m.VolatileMisses,
		m.FallbackHits, m.FallbackMisses,
		m.StaleServes,
		m.FetchesTotal, m.FetchDuration,
		m.RateGateRejects, m.BreakerRejects,
		m.FallbackFailures,
		m.RequestsTotal, m.RequestDuration, m.ActiveRequests,
	)
	return m
}
