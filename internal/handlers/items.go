package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"cleanconvert/internal/batch"
	"cleanconvert/internal/errs"
)

// ItemsResponse is the batch snapshot.
type ItemsResponse struct {
	Items []batch.Item `json:"items"`
	Stats batch.Stats  `json:"stats"`
}

// ListItems returns every item in insertion order with the batch stats.
func (h *Handlers) ListItems(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ItemsResponse{Items: h.batch.Items(), Stats: h.batch.Stats()})
}

// GetItem returns one item.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	it, ok := h.batch.Item(id)
	if !ok {
		writeError(w, errs.Newf(errs.NotFound, "get item", "item %s", id))
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// RemoveItem removes one item and releases its buffers.
func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.batch.RemoveItem(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearItems removes every item.
func (h *Handlers) ClearItems(w http.ResponseWriter, _ *http.Request) {
	n := h.batch.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
