package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/lifecycle"
)

// blobPolicy stops a served original, which may be an SVG, from running
// script or loading anything when opened directly.
const blobPolicy = "default-src 'none'; img-src 'self' data:; style-src 'unsafe-inline'; sandbox"

// ServeBlob serves the buffer behind a live handle for previews. Released
// handles answer 404, so a revoked URL never yields stale bytes.
func (h *Handlers) ServeBlob(w http.ResponseWriter, r *http.Request) {
	handle := lifecycle.Handle(lifecycle.HandlePrefix + mux.Vars(r)["id"])
	blob, ok := h.registry.Lookup(handle)
	if !ok {
		writeError(w, errs.Newf(errs.NotFound, "blob", "handle released or unknown"))
		return
	}

	w.Header().Set("Content-Type", blob.MediaType)
	w.Header().Set("ETag", blob.ETag)
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", blobPolicy)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(blob.Data))
}
