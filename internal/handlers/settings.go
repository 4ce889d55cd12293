package handlers

import (
	"net/http"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/errs"
)

const maxSettingsBody = 4 << 10

// SettingsRequest changes the conversion settings. Omitted fields keep
// their current value. Quality is an integer percentage.
type SettingsRequest struct {
	Format        *string `json:"format"`
	Quality       *int    `json:"quality"`
	MaxWidth      *int    `json:"maxWidth"`
	MaxHeight     *int    `json:"maxHeight"`
	StripMetadata *bool   `json:"stripMetadata"`
}

// SettingsResponse describes the current conversion settings.
type SettingsResponse struct {
	Format        string `json:"format"`
	MediaType     string `json:"mediaType"`
	Native        bool   `json:"native"`
	Quality       int    `json:"quality"`
	MaxWidth      int    `json:"maxWidth"`
	MaxHeight     int    `json:"maxHeight"`
	StripMetadata bool   `json:"stripMetadata"`
}

func (h *Handlers) settingsResponse(req convert.Request) SettingsResponse {
	mt, _ := req.Resolve()
	native := false
	if h.engine != nil {
		native = h.engine.Capabilities().Probe(mt)
	}
	return SettingsResponse{
		Format:        req.Format,
		MediaType:     mt,
		Native:        native,
		Quality:       convert.QualityPercent(req.Quality),
		MaxWidth:      req.MaxWidth,
		MaxHeight:     req.MaxHeight,
		StripMetadata: req.StripMetadata,
	}
}

// GetSettings returns the settings new and reset items use.
func (h *Handlers) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settingsResponse(h.batch.Settings()))
}

// UpdateSettings validates and applies new settings. Completed and failed
// items go back to pending.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body SettingsRequest
	if err := decodeJSON(w, r, maxSettingsBody, &body); err != nil {
		if errs.CodeOf(err) == errs.TooLarge {
			writeError(w, err)
			return
		}
		writeJSONError(w, "Invalid settings body", http.StatusBadRequest)
		return
	}

	req := h.batch.Settings()
	if body.Format != nil {
		req.Format = *body.Format
	}
	if body.Quality != nil {
		q, err := convert.QualityFromPercent(*body.Quality)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Quality = q
	}
	if body.MaxWidth != nil {
		req.MaxWidth = *body.MaxWidth
	}
	if body.MaxHeight != nil {
		req.MaxHeight = *body.MaxHeight
	}
	if body.StripMetadata != nil {
		req.StripMetadata = *body.StripMetadata
	}

	if err := h.batch.UpdateSettings(req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.settingsResponse(req))
}
