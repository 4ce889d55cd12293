package metrics

import (
	"cleanconvert/internal/errs"
	"cleanconvert/internal/formats"
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Conversions per output type ---
	for _, d := range formats.OutputFormats() {
		ConversionDuration.WithLabelValues(d.MediaType)
		ConversionFallbacksTotal.WithLabelValues(d.MediaType)
		ConversionsTotal.WithLabelValues(d.MediaType, d.MediaType, "success")
	}

	for _, code := range []errs.Code{errs.DecodeFailed, errs.EncodeFailed, errs.Timeout, errs.Transient, errs.Canceled} {
		ConversionErrorsTotal.WithLabelValues(string(code))
	}

	// --- Intake rejections ---
	for _, code := range []errs.Code{errs.InvalidType, errs.EmptyFile, errs.TooLarge, errs.NameTooLong,
		errs.SuspiciousName, errs.CorruptOrInvalidDimensions, errs.ArchiveUnreadable, errs.BatchFull} {
		FilesRejectedTotal.WithLabelValues(string(code))
	}

	// --- Queue outcomes ---
	for _, outcome := range []string{"completed", "failed", "timeout", "dropped"} {
		QueueJobsTotal.WithLabelValues(outcome)
	}

	// --- Retries per operation ---
	for _, op := range []string{"convert", "read"} {
		RetryAttemptsTotal.WithLabelValues(op)
		RetrySuccessTotal.WithLabelValues(op)
		RetryFailuresTotal.WithLabelValues(op)
		RetryDuration.WithLabelValues(op)
	}

	for _, reason := range []string{"explicit", "owner", "teardown", "sweep"} {
		HandlesReleasedTotal.WithLabelValues(reason)
	}

	for _, s := range []string{"pending", "processing", "completed", "error"} {
		BatchItems.WithLabelValues(s)
	}

	for _, op := range []string{"record", "list", "summary"} {
		HistoryQueriesTotal.WithLabelValues(op, "success")
		HistoryQueriesTotal.WithLabelValues(op, "error")
		HistoryQueryDuration.WithLabelValues(op)
	}

	for _, s := range []string{"read", "skipped", "error"} {
		IngestFilesTotal.WithLabelValues(s)
	}
}
