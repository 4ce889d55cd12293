// Package archive unpacks uploaded image bundles and packs converted images
// into a single download.
//
// ZipCodec implements both directions on top of archive/zip. Unpacking
// filters to image entries and never inflates an entry past the per-file
// size ceiling.
package archive
