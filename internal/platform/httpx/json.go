package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes payload with status as a JSON document.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
