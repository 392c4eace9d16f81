// Package responders holds small, dependency-free helpers for writing HTTP
// responses, shared by every handler package.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes status and payload as an application/json response. A nil
// payload writes only the status line and headers.
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
