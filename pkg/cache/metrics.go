package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by lookup state (fresh, stale)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_cache_hits_total",
			Help: "Total number of cache hits by lookup state",
		},
		[]string{"state"}, // "fresh", "stale"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictions tracks lazy evictions of unusable entries
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_cache_evictions_total",
			Help: "Total number of entries evicted as unusable",
		},
	)

	// CacheRefreshes tracks expiry refreshes after 304 confirmations
	CacheRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_cache_refreshes_total",
			Help: "Total number of entry expiries refreshed after revalidation",
		},
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
