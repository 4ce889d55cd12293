// Package middleware provides the HTTP middleware of the cleanconvert server.
//
// It includes:
//   - Request ids (X-Request-ID), generated when absent or malformed
//   - Access logging through the leveled logger, with log-injection guards
//   - Prometheus request metrics labelled by route template
//   - gzip compression for JSON and text responses
package middleware
