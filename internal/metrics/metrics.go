// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: routes are mux patterns, never raw paths.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packs_http_requests_total",
		Help: "Total number of HTTP requests, by route, method and status code.",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "packs_http_request_duration_seconds",
		Help:    "HTTP request latency, by route and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	CalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "packs_calculation_duration_seconds",
		Help:    "Time spent computing a pack composition (cache misses only).",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	CalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packs_calculations_total",
		Help: "Total number of calculation requests, by outcome.",
	}, []string{"outcome"})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packs_cache_requests_total",
		Help: "Composition cache lookups, by result (hit/miss).",
	}, []string{"result"})

	CatalogReplacesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packs_catalog_replaces_total",
		Help: "Catalog replace attempts, by outcome.",
	}, []string{"outcome"})

	CatalogSizes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packs_catalog_sizes",
		Help: "Number of distinct pack sizes in the current catalog.",
	})

	CatalogVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "packs_catalog_version",
		Help: "Version of the currently published catalog snapshot.",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packs_rate_limited_total",
		Help: "Requests rejected by rate limiting, by limiter (global/client).",
	}, []string{"limiter"})
)

// ObserveHTTP records one completed request.
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveCalculation records a calculation outcome such as "ok" or "invalid_quantity".
func ObserveCalculation(outcome string, elapsed time.Duration, cached bool) {
	CalculationsTotal.WithLabelValues(outcome).Inc()
	if !cached && outcome == "ok" {
		CalculationDuration.Observe(elapsed.Seconds())
	}
}

// ObserveCache records a cache lookup.
func ObserveCache(hit bool) {
	if hit {
		CacheRequestsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// ObserveCatalog records the published catalog shape.
func ObserveCatalog(sizes int, version uint64) {
	CatalogSizes.Set(float64(sizes))
	CatalogVersion.Set(float64(version))
}
