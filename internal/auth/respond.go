package auth

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, payload interface{}) {
	_ = json.NewEncoder(w).Encode(payload)
}
