package transport

import (
	"net/http"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
)

// handleDelete terminates a session (property P6): closes every open SSE
// stream, resolves every pending request with "Session terminated", and
// removes the session so a subsequent POST with the same id gets 404.
func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request, opts *RequestOptions) {
	if !t.cfg.stateful {
		writeError(w, http.StatusMethodNotAllowed, nil, jsonrpc.ErrCodeTransportOrSession, "DELETE requires stateful mode")
		return
	}
	headerID := r.Header.Get(headerSessionID)
	if headerID == "" {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeTransportOrSession, "Mcp-Session-Id is required")
		return
	}
	sess, ok := t.sessions.Get(headerID)
	if !ok || sess == nil {
		writeError(w, http.StatusNotFound, nil, jsonrpc.ErrCodeTransportOrSession, "Session not found")
		return
	}
	t.sessions.Remove(headerID)
	w.WriteHeader(http.StatusNoContent)
}
