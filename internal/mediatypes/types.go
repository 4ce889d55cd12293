package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType classifies an input file.
type FileType string

const (
	// FileTypeImage represents an image file.
	FileTypeImage FileType = "image"
	// FileTypeArchive represents a bundle of images (zip).
	FileTypeArchive FileType = "archive"
	// FileTypeOther represents an unknown or unsupported file type.
	FileTypeOther FileType = "other"
)

// Canonical media types used across the pipeline.
const (
	JPEG    = "image/jpeg"
	PNG     = "image/png"
	WebP    = "image/webp"
	AVIF    = "image/avif"
	BMP     = "image/bmp"
	TIFF    = "image/tiff"
	GIF     = "image/gif"
	SVG     = "image/svg+xml"
	ICO     = "image/x-icon"
	ICOAlt  = "image/vnd.microsoft.icon"
	HEIC    = "image/heic"
	HEIF    = "image/heif"
	Zip     = "application/zip"
	ZipAlt  = "application/x-zip-compressed"
	Unknown = "application/octet-stream"

	// ZipExt is the extension recognised as an image bundle.
	ZipExt = ".zip"
)

// ImageExtensions maps file extensions to whether they are accepted image inputs.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".avif": true,
	".svg":  true,
	".ico":  true,
	".tiff": true,
	".tif":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".png":  PNG,
	".gif":  GIF,
	".bmp":  BMP,
	".webp": WebP,
	".avif": AVIF,
	".svg":  SVG,
	".ico":  ICO,
	".tiff": TIFF,
	".tif":  TIFF,
	".heic": HEIC,
	".heif": HEIF,
	ZipExt:  Zip,
}

// AllowedInputTypes is the allow-list of declared media types the validator accepts.
var AllowedInputTypes = map[string]bool{
	JPEG:   true,
	PNG:    true,
	WebP:   true,
	AVIF:   true,
	BMP:    true,
	TIFF:   true,
	SVG:    true,
	GIF:    true,
	ICO:    true,
	ICOAlt: true,
}

// aliases maps non-canonical spellings seen in the wild to canonical types.
var aliases = map[string]string{
	"image/jpg":      JPEG,
	"image/pjpeg":    JPEG,
	"image/x-ms-bmp": BMP,
	"image/x-bmp":    BMP,
	"image/x-png":    PNG,
	"image/tif":      TIFF,
	"image/x-tiff":   TIFF,
}

// extensions maps canonical output media types to the extension used for
// downloaded files.
var extensions = map[string]string{
	JPEG:   "jpg",
	PNG:    "png",
	WebP:   "webp",
	AVIF:   "avif",
	BMP:    "bmp",
	TIFF:   "tiff",
	GIF:    "gif",
	SVG:    "svg",
	ICO:    "ico",
	ICOAlt: "ico",
	HEIC:   "heic",
	HEIF:   "heif",
}

// Normalize lowercases a media type, drops parameters and maps known aliases
// to their canonical spelling.
func Normalize(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if canonical, ok := aliases[mt]; ok {
		return canonical
	}
	return mt
}

// Ext returns the lowercase extension of name including the leading dot.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// GetFileType returns the FileType for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
func GetFileType(ext string) FileType {
	if ImageExtensions[ext] {
		return FileTypeImage
	}
	if ext == ZipExt {
		return FileTypeArchive
	}
	return FileTypeOther
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return Unknown
}

// ExtensionFor returns the download extension (without dot) for a media type.
func ExtensionFor(mediaType string) string {
	if ext, ok := extensions[Normalize(mediaType)]; ok {
		return ext
	}
	return "bin"
}

// IsAllowedInput reports whether a declared media type is on the input allow-list.
func IsAllowedInput(mediaType string) bool {
	return AllowedInputTypes[Normalize(mediaType)]
}

// IsArchive reports whether a file should be treated as an image bundle,
// judged by declared type or by extension.
func IsArchive(name, mediaType string) bool {
	switch Normalize(mediaType) {
	case Zip, ZipAlt:
		return true
	}
	return Ext(name) == ZipExt
}

// BaseName strips directories and the final extension from name.
func BaseName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
