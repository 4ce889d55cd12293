package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/logging"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code,omitempty"`
}

// writeJSON encodes v as JSON with the given status. Encoding errors are
// logged since the status line is already sent.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a plain message with the given status.
func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeError maps a pipeline error onto a status code and its user-facing
// reason.
func writeError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	writeJSON(w, statusFor(code), ErrorResponse{Error: errs.Message(code), Code: code})
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.InvalidType, errs.EmptyFile, errs.NameTooLong, errs.SuspiciousName,
		errs.CorruptOrInvalidDimensions, errs.UnsupportedFormat, errs.InvalidQuality,
		errs.InvalidDimensions, errs.ArchiveUnreadable, errs.DecodeFailed:
		return http.StatusBadRequest
	case errs.TooLarge:
		return http.StatusRequestEntityTooLarge
	case errs.NotFound:
		return http.StatusNotFound
	case errs.NotReady, errs.BatchFull:
		return http.StatusConflict
	case errs.Timeout:
		return http.StatusGatewayTimeout
	case errs.Canceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body of at most maxBytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errs.New(errs.TooLarge, "decode body", err)
		}
		return err
	}
	return nil
}
