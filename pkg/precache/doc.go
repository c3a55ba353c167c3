// Package precache warms a cache store from the precache manifest.
//
// The manifest is a fixed list of absolute URLs. Entries are fetched in
// parallel with a bounded number of workers (errgroup with SetLimit) and each
// 2xx response is stored under the URL's GET key.
//
// Example usage:
//
//	warmer := precache.NewWarmer(upstreamClient, precache.DefaultConfig())
//	store, _ := manager.Open(ctx, "v2")
//	result := warmer.Precache(ctx, store, cfg.Manifest)
//
// Precache is best-effort:
//   - a failing entry (transport error or non-2xx) is logged and skipped
//   - the remaining entries are still fetched
//   - the result lists stored and failed URLs
package precache
