// Package diag exposes the diagnostics HTTP surface: health, metrics,
// archived traces, and the live event feed websocket.
package diag

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the standard error body.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

const (
	errCodeBadRequest     = "BAD_REQUEST"
	errCodeNotFound       = "NOT_FOUND"
	errCodeInternalServer = "INTERNAL_SERVER_ERROR"
	errCodeUnavailable    = "SERVICE_UNAVAILABLE"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		}
	}
}

// writeError writes a standard error body.
func writeError(w http.ResponseWriter, statusCode int, code, message, requestID string) {
	writeJSON(w, statusCode, errorResponse{
		Error: errorDetail{Code: code, Message: message, RequestID: requestID},
	})
}
