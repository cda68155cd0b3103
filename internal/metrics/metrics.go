package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evermark_sync_operations_total", Help: "Sync operations by outcome"},
		[]string{"operation", "status"},
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "evermark_sync_operation_duration_seconds", Help: "Sync operation latency", Buckets: prometheus.DefBuckets},
		[]string{"operation"},
	)
	CacheWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evermark_cache_writes_total", Help: "Cache upserts by table and outcome"},
		[]string{"table", "status"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evermark_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "evermark_http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(SyncOperations, SyncDuration, CacheWrites, HTTPRequests, HTTPDuration)
}

// ObserveSync records one finished sync operation.
func ObserveSync(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SyncOperations.WithLabelValues(operation, status).Inc()
	SyncDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveWrite records one cache upsert.
func ObserveWrite(table string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CacheWrites.WithLabelValues(table, status).Inc()
}

// StatusLabel buckets an HTTP status code.
func StatusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
