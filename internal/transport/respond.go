package transport

import (
	"encoding/json"
	"net/http"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
)

// writeError writes a hard-failure JSON-RPC error body with the given
// HTTP status, optionally echoing a session id header, matching section
// 6.1's "On hard failures the body is
// {"jsonrpc":"2.0","error":{...},"id":null}".
func writeError(w http.ResponseWriter, status int, sessionID *string, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if sessionID != nil {
		w.Header().Set("Mcp-Session-Id", *sessionID)
	}
	w.WriteHeader(status)
	body := jsonrpc.NewErrorMessage(code, message)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorWithID(w http.ResponseWriter, status int, sessionID *string, id jsonrpc.RequestID, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if sessionID != nil {
		w.Header().Set("Mcp-Session-Id", *sessionID)
	}
	w.WriteHeader(status)
	body := jsonrpc.NewErrorResponse(&id, code, message)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, sessionID *string, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if sessionID != nil {
		w.Header().Set("Mcp-Session-Id", *sessionID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
