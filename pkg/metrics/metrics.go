// Package metrics provides the centralized Prometheus registry reference.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, sde) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - esi_errors_remaining{class} (Gauge): Requests remaining in the current budget window
//   - esi_rate_limit_waits_total{class} (Counter): Acquisitions that had to wait for reset
//   - esi_rate_limit_throttles_total{class} (Counter): Server-forced throttles
//
// Cache Metrics (pkg/cache):
//   - esi_cache_hits_total{state} (Counter): Cache hits by lookup state (fresh, stale)
//   - esi_cache_misses_total (Counter): Cache misses
//   - esi_cache_evictions_total (Counter): Entries evicted as unusable
//   - esi_cache_refreshes_total (Counter): Expiries refreshed after revalidation
//   - esi_cache_errors_total{operation} (Counter): Cache backend errors
//
// Request Metrics (pkg/client):
//   - esi_requests_total{route, status} (Counter): Total requests by route and HTTP status
//   - esi_request_duration_seconds{route} (Histogram): Request duration by route
//   - esi_errors_total{class} (Counter): Errors by class (client, server, throttled, network)
//   - esi_conditional_requests_total (Counter): Conditional requests sent with a validator
//   - esi_304_responses_total (Counter): 304 Not Modified confirmations
//
// Retry Metrics (pkg/client):
//   - esi_retries_total{error_class} (Counter): Retry attempts by error class
//   - esi_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - esi_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Snapshot Metrics (pkg/sde):
//   - sde_update_attempts_total{result} (Counter): Snapshot update attempts by result
//   - sde_download_bytes_total (Counter): Archive bytes downloaded
//   - sde_installed_timestamp_seconds (Gauge): Unix timestamp of the installed snapshot
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(esi_cache_hits_total[5m])) /
//   (sum(rate(esi_cache_hits_total[5m])) + sum(rate(esi_cache_misses_total[5m])))
//
//   # Error Budget Status
//   esi_errors_remaining < 20
//
//   # Request Error Rate
//   rate(esi_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(esi_request_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(esi_304_responses_total[5m]) / rate(esi_requests_total[5m])
//
//   # Snapshot Age (seconds)
//   time() - sde_installed_timestamp_seconds
