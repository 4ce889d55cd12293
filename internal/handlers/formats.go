package handlers

import (
	"net/http"

	"cleanconvert/internal/formats"
)

// FormatsResponse lists the conversion targets.
type FormatsResponse struct {
	Formats  []formats.Status `json:"formats"`
	Fallback string           `json:"fallback"`
	Default  string           `json:"default"`
}

// GetFormats reports every output format and whether this process can
// encode it natively. Non-native targets convert to the fallback type.
func (h *Handlers) GetFormats(w http.ResponseWriter, _ *http.Request) {
	var caps formats.Capabilities
	if h.engine != nil {
		caps = h.engine.Capabilities()
	}
	writeJSON(w, http.StatusOK, FormatsResponse{
		Formats:  caps.Report(),
		Fallback: formats.Fallback,
		Default:  h.batch.Settings().Format,
	})
}
