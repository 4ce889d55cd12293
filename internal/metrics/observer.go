package metrics

import (
	"cleanconvert/internal/errs"
)

// Observer records pipeline events into the Prometheus metrics declared in
// metrics.go. One value satisfies the observer interfaces of convert,
// queue, retry, lifecycle, memory and history.
type Observer struct{}

// NewObserver returns the shared observer.
func NewObserver() *Observer {
	return &Observer{}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveConversion records one engine conversion.
func (o *Observer) ObserveConversion(requested, resolved string, fallback bool, durationSeconds float64, err error) {
	if resolved == "" {
		resolved = "none"
	}
	ConversionsTotal.WithLabelValues(requested, resolved, status(err)).Inc()
	if err != nil {
		ConversionErrorsTotal.WithLabelValues(string(errs.CodeOf(err))).Inc()
		return
	}
	ConversionDuration.WithLabelValues(resolved).Observe(durationSeconds)
	if fallback {
		ConversionFallbacksTotal.WithLabelValues(requested).Inc()
	}
}

func (o *Observer) ObserveQueueDepth(active, pending int) {
	QueueActive.Set(float64(active))
	QueuePending.Set(float64(pending))
}

func (o *Observer) ObserveJob(outcome string, waitSeconds, runSeconds float64) {
	QueueJobsTotal.WithLabelValues(outcome).Inc()
	QueueWaitDuration.Observe(waitSeconds)
	if runSeconds > 0 {
		QueueRunDuration.Observe(runSeconds)
	}
}

func (o *Observer) ObserveRetryAttempt(op string) {
	RetryAttemptsTotal.WithLabelValues(op).Inc()
}

func (o *Observer) ObserveRetrySuccess(op string) {
	RetrySuccessTotal.WithLabelValues(op).Inc()
}

func (o *Observer) ObserveRetryFailure(op string) {
	RetryFailuresTotal.WithLabelValues(op).Inc()
}

func (o *Observer) ObserveRetryDuration(op string, seconds float64) {
	RetryDuration.WithLabelValues(op).Observe(seconds)
}

func (o *Observer) ObserveAcquire(bytes int) {
	HandlesAcquiredTotal.Inc()
}

func (o *Observer) ObserveRelease(reason string, count int) {
	HandlesReleasedTotal.WithLabelValues(reason).Add(float64(count))
}

func (o *Observer) ObserveLive(count int, bytes int64) {
	HandlesLive.Set(float64(count))
	HandleBytes.Set(float64(bytes))
}

func (o *Observer) ObserveMemoryUsage(ratio float64) {
	MemoryUsageRatio.Set(ratio)
}

func (o *Observer) ObserveMemoryPaused(paused bool) {
	if paused {
		MemoryPaused.Set(1)
		return
	}
	MemoryPaused.Set(0)
}

func (o *Observer) ObserveQuery(operation string, durationSeconds float64, err error) {
	HistoryQueriesTotal.WithLabelValues(operation, status(err)).Inc()
	HistoryQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// ObserveRejection counts a file turned away at intake.
func (o *Observer) ObserveRejection(code errs.Code) {
	FilesRejectedTotal.WithLabelValues(string(code)).Inc()
}

// ObserveIngest counts a file handled by the ingest walker or watcher.
func (o *Observer) ObserveIngest(status string) {
	IngestFilesTotal.WithLabelValues(status).Inc()
}

// ObserveWatchEvent counts a filesystem watcher event.
func (o *Observer) ObserveWatchEvent(eventType string) {
	WatcherEventsTotal.WithLabelValues(eventType).Inc()
}
