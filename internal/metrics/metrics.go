package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanconvert_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Conversion metrics
var (
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_conversions_total",
			Help: "Total number of conversions by requested type, resolved type and status",
		},
		[]string{"requested", "resolved", "status"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanconvert_conversion_duration_seconds",
			Help:    "Conversion duration in seconds by resolved type",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"resolved"},
	)

	ConversionFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_conversion_fallbacks_total",
			Help: "Total number of conversions that fell back to another output type",
		},
		[]string{"requested"},
	)

	ConversionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_conversion_errors_total",
			Help: "Total number of failed conversions by error code",
		},
		[]string{"code"},
	)
)

// Queue metrics
var (
	QueueActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_queue_active",
			Help: "Number of conversions currently running",
		},
	)

	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_queue_pending",
			Help: "Number of conversions waiting for a worker",
		},
	)

	QueueLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_queue_limit",
			Help: "Maximum number of concurrent conversions",
		},
	)

	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_queue_jobs_total",
			Help: "Total number of queue jobs by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "timeout", "dropped"
	)

	QueueWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleanconvert_queue_wait_seconds",
			Help:    "Time jobs spent waiting for a worker",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	QueueRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleanconvert_queue_run_seconds",
			Help:    "Time jobs spent running, retries included",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Retry metrics
var (
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_retry_attempts_total",
			Help: "Total number of retry attempts by operation",
		},
		[]string{"operation"},
	)

	RetrySuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_retry_success_total",
			Help: "Total number of operations that succeeded after retrying",
		},
		[]string{"operation"},
	)

	RetryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_retry_failures_total",
			Help: "Total number of operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)

	RetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanconvert_retry_duration_seconds",
			Help:    "Total time spent in operations that needed retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

// Handle lifecycle metrics
var (
	HandlesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_handles_live",
			Help: "Number of blob handles currently held",
		},
	)

	HandleBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_handle_bytes",
			Help: "Bytes held by live blob handles",
		},
	)

	HandlesAcquiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanconvert_handles_acquired_total",
			Help: "Total number of blob handles acquired",
		},
	)

	HandlesReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_handles_released_total",
			Help: "Total number of blob handles released by reason",
		},
		[]string{"reason"}, // "explicit", "owner", "teardown", "sweep"
	)
)

// Batch metrics
var (
	BatchItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cleanconvert_batch_items",
			Help: "Number of items in the batch by status",
		},
		[]string{"status"},
	)

	BatchSavedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_batch_saved_bytes",
			Help: "Bytes saved by completed conversions in the batch",
		},
	)

	FilesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_files_rejected_total",
			Help: "Total number of files rejected at intake by error code",
		},
		[]string{"code"},
	)
)

// History metrics
var (
	HistoryQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_history_queries_total",
			Help: "Total number of history store queries",
		},
		[]string{"operation", "status"},
	)

	HistoryQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanconvert_history_query_duration_seconds",
			Help:    "History store query duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cleanconvert_memory_paused",
			Help: "Whether conversions are paused for memory pressure (1 = paused)",
		},
	)
)

// Ingest metrics
var (
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_ingest_files_total",
			Help: "Total number of files read from disk by the ingest walker and watcher",
		},
		[]string{"status"}, // "read", "skipped", "error"
	)

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanconvert_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cleanconvert_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
