package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_cache_hits_total",
		Help: "Cache hits by cache kind (schema, values, assignments)",
	}, []string{"cache"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_cache_misses_total",
		Help: "Cache misses by cache kind, including soft-expired entries",
	}, []string{"cache"})

	ConfigFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_config_fetches_total",
		Help: "Upstream fetches issued by resource (assignments, schema, values, values_batch, rules)",
	}, []string{"resource"})

	ConfigFetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_config_fetch_failures_total",
		Help: "Upstream fetches that failed and were converted to absence",
	}, []string{"resource"})

	BatchFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blueprint_batch_fallbacks_total",
		Help: "Batched field-value fetches that degraded to per-product fetches",
	})

	CoalescedCallersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blueprint_coalesced_callers_total",
		Help: "Callers that joined an already in-flight fetch instead of issuing one",
	}, []string{"cache"})

	PricingResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_resolutions_total",
		Help: "Pricing resolutions by outcome (resolved, no_blueprint, no_rules)",
	}, []string{"outcome"})

	PricingRulesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_rules_dropped_total",
		Help: "Rules excluded during interpretation, by reason",
	}, []string{"reason"})

	PricingMalformedPricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_malformed_prices_total",
		Help: "Prices that failed to parse and defaulted to zero",
	})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Latency of remote configuration source requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
