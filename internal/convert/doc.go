// Package convert is the conversion engine: decode, scale, encode, verify.
//
// A conversion decodes the source (applying EXIF orientation), computes an
// aspect-preserving target size that never upscales, resamples with
// Lanczos, encodes at the requested quality and then sniffs the produced
// bytes. When the environment has no encoder for the requested type the
// engine encodes PNG instead and the Result says so through UsedFallback.
//
// Pure Go codecs cover JPEG, PNG, BMP, TIFF and WebP output and JPEG, PNG,
// GIF, BMP, TIFF, WebP, SVG and ICO input. With libvips initialized
// (InitVips) AVIF output and AVIF/HEIF input become available.
package convert
