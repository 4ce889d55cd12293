// Package startup handles configuration loading and the startup and
// shutdown logging of the cleanconvert server.
//
// # Configuration
//
// [FromEnv] reads the environment quietly (the CLI uses it); [LoadConfig]
// additionally prints the banner and the effective values. Supported
// variables:
//
//   - PORT, BIND_ADDR: listen address (default 127.0.0.1:8080)
//   - METRICS_ENABLED, METRICS_PORT: Prometheus endpoint (default true, 9090)
//   - LOG_LEVEL, LOG_HEALTH_CHECKS: logging
//   - MAX_FILE_SIZE, MAX_ARCHIVE_SIZE, MAX_BATCH_SIZE, MAX_FILENAME_LENGTH
//   - VERIFY_INTEGRITY, MAX_IMAGE_DIMENSION: intake integrity check
//   - CONVERT_CONCURRENCY, CONVERT_TIMEOUT, CONVERT_RETRIES, CONVERT_RETRY_BACKOFF
//   - DEFAULT_FORMAT, DEFAULT_QUALITY (0-100): settings for new items
//   - SWEEP_INTERVAL: orphaned handle sweep period
//   - VIPS_ENABLED, DISABLED_ENCODERS: conversion backends
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: see package memory
//
// Unparsable values fall back to the default with a warning. An invalid
// default format or quality is an error.
//
// # Build Information
//
// Version, Commit and BuildTime are injected with -ldflags and exposed via
// [GetBuildInfo].
package startup
