// Package cache provides the versioned response store used by the offline proxy.
//
// A store is a named container of request→response entries. Exactly one store
// version is active at a time; activating a new version deletes every other
// store before the proxy serves under it.
//
// # Backends
//
//   - RedisBackend: registry SET + one HASH per store (go-redis)
//   - SQLiteBackend: single database file, for on-device use
//   - MemoryBackend: process memory, nothing persisted
//
// # Basic Usage
//
//	manager := cache.NewManager(cache.NewRedisBackend(redisClient, ""))
//
//	// Cutover: creates v2, deletes v1 and anything else
//	if err := manager.ActivateVersion(ctx, "v2"); err != nil {
//		return err
//	}
//
//	store := manager.Current()
//	entry, err := store.Match(ctx, cache.KeyFromRequest(req, nil))
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//
// # Keys
//
// Entries are keyed by canonical request identity (method, URL with sorted
// query, selected vary headers). Keys starting with ReservedKeyPrefix hold
// bookkeeping such as the deferred write queue and are never request keys.
//
// # Metrics
//
//   - offline_proxy_cache_hits_total{codec}
//   - offline_proxy_cache_misses_total
//   - offline_proxy_cache_writes_total
//   - offline_proxy_cache_written_bytes_total
//   - offline_proxy_cache_stores_deleted_total
//   - offline_proxy_cache_errors_total{operation}
package cache
