// Command cleanconvert converts images on the local machine without a
// server.
//
// Usage:
//
//	cleanconvert <command> [flags]
//
// Commands:
//
//	convert  Read the given files and directories (zip bundles are
//	         unpacked), convert every image and write the results to -out,
//	         or a single zip with -zip. Exits 1 when any file was rejected
//	         or failed to convert.
//
//	watch    Watch -in for new images and convert each one as it appears.
//
//	formats  List the output formats and whether this build encodes them
//	         natively. Formats that are not native convert to PNG.
//
// Common flags:
//
//	-format webp      output format
//	-quality 80       quality 0-100 for lossy formats
//	-max-width N      bound the output size, preserving aspect ratio
//	-max-height N
//	-keep-metadata    carry EXIF into JPEG output
//	-out DIR          output directory; existing files are never replaced
//
// Progress is shown on a single updating line when stdout is a terminal.
package main
