// Package formats resolves requested output format names to canonical media
// types and describes what the running process can encode.
//
// Resolve is a pure mapping. Capabilities is built by the conversion engine
// from its encoder set; Sniff inspects produced bytes so that a degraded
// encode can be reported as a fallback instead of passing silently.
package formats
