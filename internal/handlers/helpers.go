package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes the standard success envelope.
func WriteSuccess(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusOK, map[string]bool{
		"success": true,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// PathSuffix extracts the path segment following prefix, with any trailing
// slash removed. Returns "" when the request path is the prefix itself.
func PathSuffix(r *http.Request, prefix string) string {
	suffix := strings.TrimPrefix(r.URL.Path, prefix)
	return strings.Trim(suffix, "/")
}
