// Package lifecycle owns every buffer handed out for preview or download.
//
// Each buffer is registered under an owner (a batch item) and addressed by
// a revocable Handle. A handle is released exactly once: by its owner's
// removal, by a settings change that discards the result, or at session
// teardown through ReleaseAll. A periodic sweep reclaims handles whose
// owner no longer exists.
package lifecycle
