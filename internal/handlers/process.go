package handlers

import (
	"net/http"
	"strconv"

	"cleanconvert/internal/batch"
)

// ProcessResponse reports a processing pass.
type ProcessResponse struct {
	Summary batch.Summary `json:"summary"`
	Stats   batch.Stats   `json:"stats"`
}

// ProcessAll converts every pending item. By default it waits for the pass
// to finish; with wait=false it starts the pass in the background and
// returns 202. A client disconnect during a waiting pass cancels the items
// not yet started.
func (h *Handlers) ProcessAll(w http.ResponseWriter, r *http.Request) {
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, "wait must be true or false", http.StatusBadRequest)
			return
		}
		wait = parsed
	}

	if !wait {
		go func() {
			sum, err := h.batch.ProcessAll(h.baseCtx)
			if err != nil {
				h.log.Warn("Background processing stopped: %v", err)
				return
			}
			h.log.Info("Background pass finished: %d succeeded, %d failed", sum.Succeeded, sum.Failed)
		}()
		writeJSON(w, http.StatusAccepted, h.batch.Stats())
		return
	}

	sum, err := h.batch.ProcessAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sum.Outcomes == nil {
		sum.Outcomes = []batch.Outcome{}
	}
	writeJSON(w, http.StatusOK, ProcessResponse{Summary: sum, Stats: h.batch.Stats()})
}
