// Package retry runs operations with capped exponential backoff.
//
// Do is the general form and takes a predicate deciding which errors are
// worth another attempt. ReadFile wraps os.ReadFile and retries only stale
// file handle errors, which network filesystems return transiently.
package retry
