// Package mediatypes holds the image media-type and extension tables shared
// across cleanconvert.
//
// It has no dependencies beyond the standard library so that any package can
// import it without creating cycles.
//
// # Input classification
//
//	ext := mediatypes.Ext(filename)
//	switch mediatypes.GetFileType(ext) {
//	case mediatypes.FileTypeImage:
//	    // single image
//	case mediatypes.FileTypeArchive:
//	    // bundle to unpack
//	}
//
// # Media types
//
// Normalize maps aliases such as image/jpg to their canonical spelling.
// IsAllowedInput checks the validator allow-list and ExtensionFor gives the
// extension used when naming converted downloads (image/jpeg -> "jpg").
package mediatypes
