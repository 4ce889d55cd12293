// Package metrics provides Prometheus instrumentation for cleanconvert.
//
// All metrics are registered on the default registry and prefixed with
// "cleanconvert_". The HTTP server exposes them on /metrics.
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: Counter of requests by method, path and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of requests being served
//
// ## Conversion Metrics
//
//   - ConversionsTotal: Counter by requested type, resolved type and status
//   - ConversionDuration: Histogram of engine time by resolved type
//   - ConversionFallbacksTotal: Counter of fallbacks by requested type
//   - ConversionErrorsTotal: Counter of failures by error code
//
// ## Queue and Retry Metrics
//
//   - QueueActive, QueuePending: Gauges of running and waiting jobs
//   - QueueJobsTotal: Counter of jobs by outcome
//   - QueueWaitDuration, QueueRunDuration: Histograms of wait and run time
//   - RetryAttemptsTotal, RetrySuccessTotal, RetryFailuresTotal, RetryDuration
//
// ## Handle and Batch Metrics
//
//   - HandlesLive, HandleBytes: Gauges of outstanding blob handles
//   - HandlesAcquiredTotal, HandlesReleasedTotal: Counters, released by reason
//   - BatchItems: Gauge of items by status, refreshed by the Collector
//   - BatchSavedBytes: Gauge of bytes saved by completed items
//   - FilesRejectedTotal: Counter of intake rejections by code
//
// ## Other
//
//   - HistoryQueriesTotal, HistoryQueryDuration: history store queries
//   - MemoryUsageRatio, MemoryPaused: memory monitor state
//   - IngestFilesTotal, WatcherEventsTotal: directory ingest
//   - AppInfo: build information
//
// # Observer
//
// Pipeline packages do not import this package. Each declares a small
// observer interface and *Observer implements all of them:
//
//	obs := metrics.NewObserver()
//	engine := convert.NewEngine(convert.Options{Observer: obs})
//	q := queue.New(engine, queue.Config{Observer: obs})
//
// Call InitializeMetrics once at startup so labelled series exist before
// the first event.
package metrics
