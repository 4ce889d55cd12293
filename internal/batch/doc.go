// Package batch orchestrates a session's conversions.
//
// A Batch holds the ordered items of one session. Files enter through
// AddFiles, which unpacks bundles, validates each file and registers its
// bytes with the lifecycle registry. ProcessAll hands pending items to the
// queue and waits for them; the queue's callbacks move each item through
// pending, processing and then completed or error.
//
// Items are immutable values. Every transition is a replace under one lock,
// keyed by item id and attempt number, so a late result for a removed or
// reset item is recognised and discarded instead of overwriting newer
// state. Changing settings with UpdateSettings sends completed and failed
// items back to pending and releases their old results.
//
// Bulk downloads never fail silently: each item yields an Outcome the
// caller can inspect.
package batch
