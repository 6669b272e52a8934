package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// User API call rate by outcome. Watch for: error vs success ratio.
	UserLookupsTotal *prometheus.CounterVec

	// User API latency per request. Watch for: p95 > 2s (upstream degradation).
	UserLookupDuration *prometheus.HistogramVec

	// Retry attempts against the user API. High retries = unstable upstream.
	UserLookupRetriesTotal prometheus.Counter

	// Forecast cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Cache backend errors by operation (get/set). Treated as misses on the read path.
	CacheErrorsTotal *prometheus.CounterVec

	// Cached entries that failed to deserialize. Any value here means a writer
	// and a reader disagree on the payload shape.
	CacheDecodeFailuresTotal prometheus.Counter

	// Cache misses that overlapped an in-progress miss for the same key.
	// Duplicate regeneration is permitted; this makes it visible.
	ConcurrentMissesTotal prometheus.Counter

	// Forecasts generated (one per effective cache miss).
	ForecastsGeneratedTotal prometheus.Counter

	// Audit publish outcomes: published vs failed. Failures never reach callers,
	// so this counter is the only operator signal.
	AuditPublishTotal *prometheus.CounterVec

	// Consumer-side audit event outcomes: acked vs rejected.
	AuditEventsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UserLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userLookupsTotal",
			Help: "Total number of user API lookups",
		},
		[]string{"status"},
	)
	UserLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "userLookupDurationSeconds",
			Help:    "User API latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
	UserLookupRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "userLookupRetriesTotal",
			Help: "Total number of retry attempts for user API lookups",
		},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastCacheHitsTotal",
			Help: "Total number of forecast cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastCacheMissesTotal",
			Help: "Total number of forecast cache misses (including decode failures)",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastCacheErrorsTotal",
			Help: "Total number of cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CacheDecodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastCacheDecodeFailuresTotal",
			Help: "Cached forecast entries that failed to deserialize (treated as misses)",
		},
	)
	ConcurrentMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastConcurrentMissesTotal",
			Help: "Cache misses that overlapped another miss in progress for the same key",
		},
	)
	ForecastsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastsGeneratedTotal",
			Help: "Total number of forecasts generated",
		},
	)
	AuditPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditPublishTotal",
			Help: "Audit event publish outcomes (published, failed)",
		},
		[]string{"outcome"},
	)
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditEventsTotal",
			Help: "Audit events consumed by outcome (acked, rejected)",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UserLookupsTotal, UserLookupDuration, UserLookupRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheDecodeFailuresTotal,
		ConcurrentMissesTotal, ForecastsGeneratedTotal,
		AuditPublishTotal, AuditEventsTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
