// Package handlers implements the HTTP API for a cleanconvert server.
//
// A server process owns one batch. The API lets a client upload images or
// zip bundles, adjust conversion settings, run a processing pass and fetch
// the results:
//
//	POST   /api/files               multipart upload, field "files"
//	GET    /api/items               items and batch stats
//	GET    /api/items/{id}          one item
//	DELETE /api/items/{id}          remove one item
//	DELETE /api/items               clear the batch
//	GET    /api/settings            current conversion settings
//	PUT    /api/settings            change settings
//	POST   /api/process             convert pending items
//	GET    /api/items/{id}/download converted file
//	GET    /api/downloads           links to every converted file
//	GET    /api/download            every converted file as a zip
//	GET    /api/history             recorded attempts
//	GET    /api/formats             output formats and native support
//	GET    /blob/{id}               preview of a live buffer
//
// Errors are JSON bodies of the form {"error": "...", "code": "..."} where
// code is one of the errs codes.
package handlers
