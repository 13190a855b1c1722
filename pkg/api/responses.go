// Package api holds the JSON envelope shared by the HTTP handlers.
package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the standard success envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta contains metadata about the response
type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Count     *int   `json:"count,omitempty"`
}

// RespondJSON sends a JSON response wrapped in the envelope
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// RespondList sends a list with its count in the metadata
func RespondList(w http.ResponseWriter, requestID string, data interface{}, count int) {
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta: &Meta{
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Count:     &count,
		},
	})
}

// RespondNoContent sends an empty 204
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
