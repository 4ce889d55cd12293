// Package queue schedules conversions with bounded parallelism.
//
// A Queue owns a fixed pool of workers, one per concurrency slot. Workers
// take jobs in submission order, so admission is FIFO and work-conserving:
// as soon as one conversion finishes the worker yields and picks up the next
// pending job. Completion order is not admission order; callers key state by
// job ID.
//
// Each admitted job runs under a per-attempt timeout. An attempt that times
// out is abandoned and fails with a Timeout error. Timeouts and transient
// failures are retried through the retry package; decode and encode errors
// are not.
//
// Jobs that were never admitted can be removed with Cancel or Clear. Every
// submitted job ends in exactly one of its OnComplete, OnError or OnDrop
// callbacks.
package queue
