// Package metrics exposes the Prometheus metrics of the scraper.
// All metrics are defined in their respective packages (fetch, retry,
// scraper, cache, ratelimit, store) and registered via promauto.
//
// This package documents them and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the scraper.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/fetch):
//   - tvmaze_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - tvmaze_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - tvmaze_errors_total{kind} (Counter): Errors by kind (not_found, rate_limited, server, transport)
//
// Retry Metrics (pkg/retry):
//   - tvmaze_retries_total{operation} (Counter): Retry attempts by operation (page, cast)
//   - tvmaze_retry_backoff_seconds{operation} (Histogram): Backoff duration by operation
//   - tvmaze_retry_exhausted_total{operation} (Counter): Calls that exhausted max retries
//
// Scraper Metrics (pkg/scraper):
//   - tvmaze_pages_total{result} (Counter): Pages by result (ok, exhausted, retryError, unknownError, cancelled)
//   - tvmaze_shows_collected_total (Counter): Shows collected with their cast
//   - tvmaze_cast_skipped_total (Counter): Shows whose cast endpoint answered 404
//   - tvmaze_runs_total{terminal} (Counter): Runs by terminal error
//   - tvmaze_run_duration_seconds (Histogram): Run duration
//
// Throttle Metrics (pkg/ratelimit):
//   - tvmaze_throttle_wait_seconds (Histogram): Time spent waiting for a request slot
//   - tvmaze_rate_limited_total (Counter): 429 responses that passed the throttle
//
// Cache Metrics (pkg/cache):
//   - tvmaze_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - tvmaze_cache_misses_total (Counter): Cache misses
//   - tvmaze_cache_size_bytes{layer="redis"} (Gauge): Bytes moved through the cache
//   - tvmaze_cache_errors_total{operation} (Counter): Cache operation errors
//
// Store Metrics (pkg/store):
//   - tvmaze_store_errors_total{operation} (Counter): Failed store operations
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(tvmaze_cache_hits_total[5m])) /
//   (sum(rate(tvmaze_cache_hits_total[5m])) + sum(rate(tvmaze_cache_misses_total[5m])))
//
//   # Share of upstream calls that were rate limited
//   sum(rate(tvmaze_errors_total{kind="rate_limited"}[5m])) / sum(rate(tvmaze_requests_total[5m]))
//
//   # Runs that ended early
//   sum by (terminal) (increase(tvmaze_runs_total{terminal!="none"}[1d]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(tvmaze_request_duration_seconds_bucket[5m]))
