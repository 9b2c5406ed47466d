// Package telemetry provides observability primitives for the response cache.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheSets       *prometheus.CounterVec
	TierHits        *prometheus.CounterVec
	TierErrors      *prometheus.CounterVec
	LocalEvictions  prometheus.Counter
	LocalEntries    prometheus.Gauge
	CorruptPayloads prometheus.Counter
	BreakerState    prometheus.Gauge

	Computes        *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	Coalesced       *prometheus.CounterVec

	UpstreamDuration      *prometheus.HistogramVec
	UpstreamErrors        *prometheus.CounterVec
	RateLimitRejects      prometheus.Counter
	GenerationQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "respcache",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respcache",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "cache_hits_total",
			Help:      "Total cache hits by content category.",
		}, []string{"category"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "cache_misses_total",
			Help:      "Total cache misses by content category.",
		}, []string{"category"}),

		CacheSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "cache_sets_total",
			Help:      "Total cache writes by content category.",
		}, []string{"category"}),

		TierHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "tier_hits_total",
			Help:      "Cache hits served by each tier.",
		}, []string{"tier"}),

		TierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "tier_errors_total",
			Help:      "Cache backend errors by tier.",
		}, []string{"tier"}),

		LocalEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "local_evictions_total",
			Help:      "Entries evicted from the local tier under capacity pressure.",
		}),

		LocalEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respcache",
			Name:      "local_entries",
			Help:      "Current number of entries in the local tier.",
		}),

		CorruptPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "corrupt_payloads_total",
			Help:      "Cached payloads that failed to decode and were treated as misses.",
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respcache",
			Name:      "remote_breaker_state",
			Help:      "Remote tier circuit breaker state (0=closed, 1=open, 2=half_open).",
		}),

		Computes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "computes_total",
			Help:      "Compute function invocations by category and outcome.",
		}, []string{"category", "status"}),

		ComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "respcache",
			Name:                            "compute_duration_seconds",
			Help:                            "Compute function duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"category"}),

		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "coalesced_total",
			Help:      "Callers that joined an in-flight computation instead of starting one.",
		}, []string{"category"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "respcache",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream generation call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "upstream_errors_total",
			Help:      "Total upstream generation errors.",
		}, []string{"status"}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "respcache",
			Name:      "ratelimit_rejects_total",
			Help:      "Upstream calls rejected by the local rate limiter.",
		}),

		GenerationQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respcache",
			Name:      "generation_queue_length",
			Help:      "Current number of queued generation ledger records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSets,
		m.TierHits,
		m.TierErrors,
		m.LocalEvictions,
		m.LocalEntries,
		m.CorruptPayloads,
		m.BreakerState,
		m.Computes,
		m.ComputeDuration,
		m.Coalesced,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.RateLimitRejects,
		m.GenerationQueueLength,
	)

	return m
}
