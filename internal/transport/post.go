package transport

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/session"
	"github.com/gate4ai/streamhttp/internal/sse"
	"go.uber.org/zap"
)

const notifyInitialized = "notifications/initialized"
const methodInitialize = "initialize"

// handlePost implements section 4.1.3: the validation table, session
// resolution, protocol-version check, and the three delivery shapes
// (response-from-client, notification, request).
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request, opts *RequestOptions) {
	accept := r.Header.Get(headerAccept)
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		writeError(w, http.StatusNotAcceptable, nil, jsonrpc.ErrCodeTransportOrSession, "Not Acceptable")
		return
	}
	if !strings.Contains(r.Header.Get(headerContentType), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, nil, jsonrpc.ErrCodeTransportOrSession, "Unsupported Media Type")
		return
	}
	if r.ContentLength > t.cfg.maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, nil, jsonrpc.ErrCodeTransportOrSession, "Payload Too Large")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, t.cfg.maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeParseError, "Parse error")
		return
	}
	if int64(len(body)) > t.cfg.maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, nil, jsonrpc.ErrCodeTransportOrSession, "Payload Too Large")
		return
	}

	msg, err := jsonrpc.ParseBody(body)
	if err != nil {
		switch err {
		case jsonrpc.ErrBatchNotSupported:
			writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeInvalidRequest, "Batch requests are not supported")
		case jsonrpc.ErrNotAValidMessage:
			writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeInvalidRequest, "Not a valid JSON-RPC message")
		default:
			writeError(w, http.StatusBadRequest, nil, jsonrpc.ErrCodeParseError, "Parse error")
		}
		return
	}

	isInitialize := msg.Kind() == jsonrpc.KindRequest && msg.Method != nil && *msg.Method == methodInitialize

	sess, sessionID, statusErr := t.resolvePostSession(r, isInitialize)
	if statusErr != nil {
		writeError(w, statusErr.status, nil, statusErr.code, statusErr.message)
		return
	}

	if !isInitialize && t.cfg.stateful {
		version := r.Header.Get(headerProtocolVer)
		if version == "" {
			version = jsonrpc.DefaultProtocolVersion
		}
		if !jsonrpc.IsSupportedProtocolVersion(version) {
			writeError(w, http.StatusBadRequest, &sessionID, jsonrpc.ErrCodeInvalidRequest, "Unsupported protocol version")
			return
		}
		sess.SetProtocolVersion(version)
	}
	sess.Touch()
	if t.cfg.stateful {
		t.sessions.Persist(sess, t.cfg.sessionTimeout)
	}

	extra := &RequestExtra{Context: r.Context(), SessionID: sessionID, Auth: opts.Auth}

	switch msg.Kind() {
	case jsonrpc.KindResponse, jsonrpc.KindErrorResponse:
		t.handler.OnMessage(msg, extra)
		writeEmptyAccepted(w, sessionID)
	case jsonrpc.KindNotification:
		if msg.Method != nil && *msg.Method == notifyInitialized {
			sess.CompleteInitialize()
		}
		t.handler.OnMessage(msg, extra)
		writeEmptyAccepted(w, sessionID)
	case jsonrpc.KindRequest:
		t.handleRequestMessage(w, r, sess, sessionID, msg, extra)
	}

	if sess.Stateless {
		t.sessions.RemoveLocal(sess.ID)
	}
}

type pipelineError struct {
	status  int
	code    int
	message string
}

// resolvePostSession implements the session-resolution rules of section
// 4.1.3, returning the Session to operate on and the id to echo back.
func (t *Transport) resolvePostSession(r *http.Request, isInitialize bool) (*session.Session, string, *pipelineError) {
	headerID := r.Header.Get(headerSessionID)

	if isInitialize {
		if t.cfg.stateful && headerID != "" {
			t.sessions.Remove(headerID)
		}
		id := newSessionID()
		sess := session.New(id, !t.cfg.stateful, t.cfg.logger)
		sess.BeginInitialize()
		t.sessions.Put(sess)
		return sess, id, nil
	}

	if t.cfg.stateful {
		sess, ok := t.sessions.Get(headerID)
		if !ok {
			return nil, "", &pipelineError{http.StatusNotFound, jsonrpc.ErrCodeTransportOrSession, "Session not found"}
		}
		if sess == nil {
			return nil, "", &pipelineError{http.StatusNotFound, jsonrpc.ErrCodeTransportOrSession, "Session not found"}
		}
		return sess, headerID, nil
	}

	// Stateless: synthesize an ephemeral, already-initialized session,
	// never persisted (invariant 5), discarded at request end.
	id := headerID
	if id == "" {
		id = newSessionID()
	}
	sess := session.New(id, true, t.cfg.logger)
	sess.SetStatus(session.StatusInitialized)
	t.sessions.Put(sess)
	return sess, id, nil
}

func writeEmptyAccepted(w http.ResponseWriter, sessionID string) {
	w.Header().Set(headerSessionID, sessionID)
	w.WriteHeader(http.StatusAccepted)
}

// handleRequestMessage implements the "Request" delivery branch: register
// a PendingRequest, pick JSON or SSE delivery, arm the timeout, and block
// until resolution, timeout, or client abort.
func (t *Transport) handleRequestMessage(w http.ResponseWriter, r *http.Request, sess *session.Session, sessionID string, msg *jsonrpc.Message, extra *RequestExtra) {
	id := *msg.ID

	if t.cfg.enableJSONResponse {
		t.handleRequestJSON(w, r, sess, sessionID, id, msg, extra)
		return
	}
	t.handleRequestSSE(w, r, sess, sessionID, id, msg, extra)
}

func (t *Transport) handleRequestJSON(w http.ResponseWriter, r *http.Request, sess *session.Session, sessionID string, id jsonrpc.RequestID, msg *jsonrpc.Message, extra *RequestExtra) {
	ch := make(chan *jsonrpc.Message, 1)
	pr := &session.PendingRequest{
		ID:        id,
		SessionID: sessionID,
		Waiter:    session.Waiter{JSONChan: ch},
		Timer:     time.NewTimer(t.cfg.requestTimeout),
	}
	sess.RegisterPendingRequest(pr)

	t.handler.OnMessage(msg, extra)

	select {
	case result := <-ch:
		writeJSON(w, http.StatusOK, &sessionID, result)
	case <-pr.Timer.C:
		errMsg := jsonrpc.NewErrorResponse(&id, jsonrpc.ErrCodeRequestTimedOut, "Request timed out")
		pr.Resolve(errMsg, func(*jsonrpc.Message) {})
		sess.DeletePendingRequest(id.String())
		writeErrorWithID(w, http.StatusRequestTimeout, &sessionID, id, jsonrpc.ErrCodeRequestTimedOut, "Request timed out")
	case <-r.Context().Done():
		pr.Resolve(nil, func(*jsonrpc.Message) {})
		sess.DeletePendingRequest(id.String())
	}
}

func (t *Transport) handleRequestSSE(w http.ResponseWriter, r *http.Request, sess *session.Session, sessionID string, id jsonrpc.RequestID, msg *jsonrpc.Message, extra *RequestExtra) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set(headerSessionID, sessionID)
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	stream := sse.New(id.String(), w, false, sess.Logger())
	sess.SetCurrentPostStream(stream)
	defer sess.ClearCurrentPostStream()

	pr := &session.PendingRequest{
		ID:        id,
		SessionID: sessionID,
		Waiter:    session.Waiter{Stream: stream},
		Timer:     time.NewTimer(t.cfg.requestTimeout),
	}
	sess.RegisterPendingRequest(pr)

	t.handler.OnMessage(msg, extra)

	select {
	case <-stream.Done():
		// The response was already written and the stream closed by
		// send()'s resolution path.
	case <-pr.Timer.C:
		errMsg := jsonrpc.NewErrorResponse(&id, jsonrpc.ErrCodeRequestTimedOut, "Request timed out")
		pr.Resolve(errMsg, func(m *jsonrpc.Message) {
			t.deliverToWaiter(sess, pr, m)
		})
		sess.DeletePendingRequest(id.String())
	case <-r.Context().Done():
		pr.Resolve(nil, func(*jsonrpc.Message) {})
		sess.DeletePendingRequest(id.String())
		stream.Close()
		sess.Logger().Debug("request aborted by client", zap.String("request_id", id.String()))
	}
}
