package server

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes a flat {"error":"..."} body, the gateway's only
// error wire shape outside composite failures.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeCompositeFailure writes the {error, step, details, result} shape a
// failed composite invocation returns.
func writeCompositeFailure(w http.ResponseWriter, step, details string, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   details,
		"step":    step,
		"details": details,
		"result":  result,
	})
}
