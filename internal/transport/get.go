package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/sse"
)

// handleGet implements section 4.1.4. Stateless mode returns a stream that
// stays open but never enqueues anything (protocol compatibility only);
// stateful mode registers a real SseStream and replays history on
// reconnect, grounded on victorvbello's handleGetRequest since gate4ai's
// own 2025 GET handler is a stub.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request, opts *RequestOptions) {
	if !strings.Contains(r.Header.Get(headerAccept), "text/event-stream") {
		writeError(w, http.StatusNotAcceptable, nil, jsonrpc.ErrCodeTransportOrSession, "Not Acceptable")
		return
	}

	headerID := r.Header.Get(headerSessionID)

	if !t.cfg.stateful {
		if headerID == "" {
			writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeTransportOrSession, "Mcp-Session-Id is required")
			return
		}
		t.serveDegenerateStream(w, r, headerID)
		return
	}

	if headerID == "" {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeTransportOrSession, "Mcp-Session-Id is required")
		return
	}
	sess, ok := t.sessions.Get(headerID)
	if !ok || sess == nil {
		writeError(w, http.StatusNotFound, nil, jsonrpc.ErrCodeTransportOrSession, "Session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set(headerSessionID, headerID)
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	resumability := t.cfg.enableResumability
	streamID := newSessionID()
	stream := sse.New(streamID, w, resumability, sess.Logger())
	sess.AddStream(stream)
	defer func() {
		sess.RemoveStream(streamID)
		stream.Close()
	}()

	if resumability {
		if raw := r.Header.Get(headerLastEventID); raw != "" {
			if lastID, err := strconv.ParseUint(raw, 10, 64); err == nil {
				for _, e := range sess.ReplayAfter(lastID) {
					_ = stream.WriteEventWithID(e.EventID, e.Message)
				}
			}
		}
	}

	select {
	case <-stream.Done():
	case <-r.Context().Done():
	}
}

// serveDegenerateStream keeps a stateless GET connection open for protocol
// compatibility without ever enqueueing anything onto it.
func (t *Transport) serveDegenerateStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set(headerSessionID, sessionID)
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	<-r.Context().Done()
}
