// Package ingest reads local image files into memory for a batch.
//
// Walker reads explicit paths and directory trees in parallel:
//   - Directories are walked recursively in lexical order
//   - Hidden files and directories (prefixed with '.') are skipped
//   - Only image and zip extensions are picked up inside directories
//   - Declared types come from the extension, or from content sniffing
//     when the extension is unknown
//   - Stale NFS handles are retried
//
// Watcher uses fsnotify to pick up files created under watched roots,
// including directories created later. Each file is read after it has been
// quiet for a stability delay.
package ingest
