package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with status code and payload.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// Error writes a machine-readable error payload.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
