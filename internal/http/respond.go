package httpx

import (
	"encoding/json"
	"net/http"
)

// genericAuthFailure is the single rejection body for every authentication
// miss, so callers cannot tell a malformed token from a revoked or expired
// device.
const genericAuthFailure = "invalid device credentials"

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
