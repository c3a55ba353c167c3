package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store hits by codec
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_hits_total",
			Help: "Total number of cache store hits",
		},
		[]string{"codec"}, // "json", "msgpack"
	)

	// CacheMisses tracks store misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_misses_total",
			Help: "Total number of cache store misses",
		},
	)

	// CacheWrites tracks successful entry writes
	CacheWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_writes_total",
			Help: "Total number of cache entries written",
		},
	)

	// CacheWrittenBytes tracks encoded bytes written
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_written_bytes_total",
			Help: "Total encoded bytes written to the cache store",
		},
	)

	// StoresDeleted tracks superseded stores removed during cutover
	StoresDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_stores_deleted_total",
			Help: "Total number of superseded cache stores deleted",
		},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "keys", "open", "activate", "purge"
	)
)
