package handlers

import (
	"net/http"
	"strconv"

	"cleanconvert/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryResponse is the recent attempt log with lifetime totals.
type HistoryResponse struct {
	Attempts       []history.Attempt `json:"attempts"`
	Summary        history.Summary   `json:"summary"`
	SavingsPercent float64           `json:"savingsPercent"`
}

// GetHistory returns the most recent conversion attempts, newest first.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSONError(w, "History is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	attempts, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to list history: %v", err)
		writeJSONError(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	sum, err := h.history.Summary(r.Context())
	if err != nil {
		h.log.Error("Failed to summarise history: %v", err)
		writeJSONError(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if attempts == nil {
		attempts = []history.Attempt{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Attempts: attempts, Summary: sum, SavingsPercent: sum.SavingsPercent()})
}
