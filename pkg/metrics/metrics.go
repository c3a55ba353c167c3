// Package metrics provides the Prometheus registry and HTTP handler for the
// proxy. All metrics are defined in their respective packages (cache, engine,
// queue, upstream, precache, connectivity, lifecycle) to keep packages
// independent; promauto registers them with the default registry.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Strategy Metrics (pkg/engine):
//   - offline_proxy_requests_total{class, strategy, outcome} (Counter): Intercepted requests
//   - offline_proxy_strategy_duration_seconds{strategy} (Histogram): Time to produce a response
//   - offline_proxy_passthrough_total (Counter): Requests forwarded without interception
//   - offline_proxy_detached_tasks_in_flight (Gauge): Background writes and refreshes running
//   - offline_proxy_detached_task_failures_total{task} (Counter): Failed background tasks (write, refresh)
//
// Cache Metrics (pkg/cache):
//   - offline_proxy_cache_hits_total{codec} (Counter): Store lookups that found an entry
//   - offline_proxy_cache_misses_total (Counter): Store lookups without an entry
//   - offline_proxy_cache_writes_total (Counter): Entries written
//   - offline_proxy_cache_written_bytes_total (Counter): Encoded bytes written
//   - offline_proxy_cache_stores_deleted_total (Counter): Superseded stores deleted during cutover
//   - offline_proxy_cache_errors_total{operation} (Counter): Backend errors by operation
//
// Deferred Write Queue Metrics (pkg/queue):
//   - offline_proxy_queue_pending (Gauge): Writes waiting for replay
//   - offline_proxy_queue_enqueued_total (Counter): Writes enqueued
//   - offline_proxy_queue_replays_total{result} (Counter): Replays by result (success, failure)
//
// Upstream Metrics (pkg/upstream):
//   - offline_proxy_upstream_requests_total{method, status} (Counter): Network requests by status
//   - offline_proxy_upstream_request_duration_seconds{method} (Histogram): Network latency
//   - offline_proxy_upstream_errors_total{class} (Counter): Failures by class (client, server, network)
//   - offline_proxy_upstream_retries_total{error_class} (Counter): Retry attempts (precache, replay)
//   - offline_proxy_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - offline_proxy_upstream_retry_exhausted_total{error_class} (Counter): Retries given up
//
// Precache Metrics (pkg/precache):
//   - offline_proxy_precache_entries_total{result} (Counter): Manifest entries by result
//   - offline_proxy_precache_duration_seconds (Histogram): Full precache duration
//
// Connectivity Metrics (pkg/connectivity):
//   - offline_proxy_online (Gauge): 1 while online, 0 while offline
//   - offline_proxy_connectivity_transitions_total{state} (Counter): State changes
//
// Lifecycle Metrics (pkg/lifecycle):
//   - offline_proxy_triggers_total{kind, result} (Counter): Dispatched triggers
//
// Example Prometheus Queries:
//
//   # Share of responses served from cache
//   sum(rate(offline_proxy_requests_total{outcome="cache"}[5m])) /
//   sum(rate(offline_proxy_requests_total[5m]))
//
//   # Offline right now
//   offline_proxy_online == 0
//
//   # Requests answered with a 503 fallback
//   rate(offline_proxy_requests_total{outcome="unavailable"}[5m])
//
//   # Deferred writes piling up
//   offline_proxy_queue_pending > 10
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(offline_proxy_upstream_request_duration_seconds_bucket[5m]))
