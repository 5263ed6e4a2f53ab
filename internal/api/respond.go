package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/usage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeServiceError maps an engine error to a status code. Invalid input
// echoes the reason back; other failures are logged and kept opaque.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error, action string) {
	switch {
	case errors.Is(err, usage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usage.ErrStorage):
		logger.Error().Err(err).Msg("Failed to " + action)
		writeError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable")
	default:
		logger.Error().Err(err).Msg("Failed to " + action)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}
