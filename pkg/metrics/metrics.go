// Package metrics exposes the Prometheus metrics of the bulk request client.
// The metrics themselves are defined with promauto in the packages that
// record them (bulk, client, ratelimit, store, upload) so that no package
// has to import this one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Session Metrics (pkg/bulk):
//   - bulk_waves_total{outcome} (Counter): Waves by outcome (ok, failed, abandoned)
//   - bulk_items_total{status} (Counter): Finished items by status
//   - bulk_wave_size (Histogram): Items per wave
//   - bulk_session_duration_seconds (Histogram): Duration of Runner.Run calls
//
// Request Metrics (pkg/client):
//   - bulk_http_requests_total{path, status} (Counter): Requests by path and HTTP status
//   - bulk_http_request_duration_seconds{path} (Histogram): Request duration by path
//   - bulk_http_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - bulk_http_retries_total{error_class} (Counter): Retry attempts by error class
//   - bulk_http_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - bulk_http_retry_exhausted_total{error_class} (Counter): Requests that exhausted their retries
//
// Quota Metrics (pkg/ratelimit):
//   - bulk_quota_remaining (Gauge): Requests left in the current quota window
//   - bulk_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - bulk_rate_limit_throttles_total (Counter): Requests delayed at the warning threshold
//
// Store Metrics (pkg/store):
//   - bulk_store_hits_total (Counter): Session record lookups that found a record
//   - bulk_store_misses_total (Counter): Lookups of unknown or expired sessions
//   - bulk_store_errors_total{operation} (Counter): Store errors by operation
//   - bulk_store_bytes_written_total (Counter): Encoded record bytes written
//
// Upload Metrics (pkg/upload):
//   - bulk_upload_active (Gauge): Uploads in flight
//   - bulk_upload_total{status} (Counter): Finished uploads by status
//   - bulk_upload_duration_seconds (Histogram): Duration of single uploads
//
// Example Prometheus Queries:
//
//   # Item Failure Ratio
//   sum(rate(bulk_items_total{status="failed"}[5m])) / sum(rate(bulk_items_total[5m]))
//
//   # Quota Status
//   bulk_quota_remaining < 20
//
//   # Whole-Call Failure Rate
//   rate(bulk_waves_total{outcome!="ok"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(bulk_http_request_duration_seconds_bucket[5m]))
