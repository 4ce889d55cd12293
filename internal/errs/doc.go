// Package errs defines the failure taxonomy shared by every stage of the
// conversion pipeline.
//
// Each Code has a sentinel error so callers can test with errors.Is:
//
//	if errors.Is(err, errs.ErrTimeout) { ... }
//
// Stages wrap failures in *Error to record the operation and cause, and
// CodeOf recovers the code for API responses and history records.
package errs
