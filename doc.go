// Package main is the cleanconvert server: a local web service that
// converts a batch of images without sending them anywhere.
//
// # Application Lifecycle
//
//  1. Memory Configuration: Sets GOMEMLIMIT from environment or cgroup limits
//  2. Configuration Loading: Reads and validates environment variables
//  3. Component Initialization:
//     - libvips (if enabled and available)
//     - Conversion engine and its format capabilities
//     - Memory monitor gating queue admission
//     - Processing queue with bounded concurrency and retries
//     - In-memory SQLite attempt history
//     - Handle registry and its sweeper
//     - The session batch
//  4. HTTP Server Setup: Routes, middleware, metrics server
//  5. Graceful Shutdown: Handles SIGINT/SIGTERM
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default 127.0.0.1:8080): the batch API and previews,
//     see package handlers
//  2. Metrics Server (default port 9090, optional): Prometheus /metrics
//
// # Environment Variables
//
//   - PORT, BIND_ADDR: listen address (default 127.0.0.1:8080)
//   - METRICS_ENABLED, METRICS_PORT: metrics server (default true, 9090)
//   - MAX_FILE_SIZE, MAX_ARCHIVE_SIZE, MAX_BATCH_SIZE, MAX_FILENAME_LENGTH
//   - VERIFY_INTEGRITY, MAX_IMAGE_DIMENSION
//   - CONVERT_CONCURRENCY, CONVERT_TIMEOUT, CONVERT_RETRIES, CONVERT_RETRY_BACKOFF
//   - DEFAULT_FORMAT, DEFAULT_QUALITY
//   - SWEEP_INTERVAL, VIPS_ENABLED, DISABLED_ENCODERS, HISTORY_DSN
//   - LOG_LEVEL: Logging level (debug/info/warn/error)
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT
//
// # Graceful Shutdown
//
//  1. Stop accepting new HTTP requests
//  2. Shut down the metrics server and collector
//  3. Cancel background processing and close the batch, releasing every handle
//  4. Stop the queue, memory monitor and libvips
//  5. Close the history database
//
// # Build Requirements
//
// CGO is required for SQLite, WebP encoding and libvips. Without libvips
// the server still runs; AVIF output then falls back to PNG.
package main
