// Package transport implements the Streamable HTTP transport: origin
// validation, the POST/GET/DELETE pipelines, session resolution, and the
// send() correlation logic that ties a handler's asynchronous reply back
// to the HTTP connection that is waiting for it.
//
// Grounded on gate4ai's server/transport package (transport.go,
// handle-mcp2025-{POST,GET,DELETE}.go) for the overall shape, and on
// victorvbello's mcp/server/streamablehttp.go for the GET resumability
// path gate4ai's own handler leaves as a stub.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport is the HTTP entry point described by section 4.1.
type Transport struct {
	cfg      *config
	handler  Handler
	sessions *session.Registry
	stopCh   chan struct{}
}

// New wires handler to a fresh Transport and starts it, installing the
// transport's send method as the handler's outbound hook -- the Go
// equivalent of the source's "transport sets handler.onmessage, handler
// calls transport.send" wiring, just inverted in which side owns the
// method value.
func New(handler Handler, opts ...Option) (*Transport, error) {
	if handler == nil {
		return nil, fmt.Errorf("transport: handler must not be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.sessionStore == nil {
		cfg.sessionStore = session.NewMemoryStore(cfg.logger)
	}

	t := &Transport{
		cfg:      cfg,
		handler:  handler,
		sessions: session.NewRegistry(cfg.sessionStore, cfg.logger),
		stopCh:   make(chan struct{}),
	}
	handler.SetSend(t.send)
	if err := handler.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("transport: handler start: %w", err)
	}
	if cfg.stateful {
		go t.runIdleSweep()
	}
	return t, nil
}

func (t *Transport) runIdleSweep() {
	ticker := time.NewTicker(t.cfg.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sessions.CleanupIdle(t.cfg.sessionTimeout)
		case <-t.stopCh:
			return
		}
	}
}

// Close shuts down the transport: stops the idle sweep, terminates every
// live session, and closes the handler.
func (t *Transport) Close() error {
	close(t.stopCh)
	t.sessions.CloseAll()
	return t.handler.Close()
}

// HandleRequest is the single entry point of section 4.1: validate
// origin, dispatch on method.
func (t *Transport) HandleRequest(w http.ResponseWriter, r *http.Request, opts *RequestOptions) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	if !originAllowed(r.Header.Get("Origin"), t.cfg.allowedOrigins) {
		writeError(w, http.StatusForbidden, nil, jsonrpc.ErrCodeTransportOrSession, "Forbidden: Origin not allowed")
		return
	}

	switch r.Method {
	case http.MethodGet:
		t.handleGet(w, r, opts)
	case http.MethodPost:
		t.handlePost(w, r, opts)
	case http.MethodDelete:
		t.handleDelete(w, r, opts)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, nil, jsonrpc.ErrCodeTransportOrSession, "Method not allowed")
	}
}

// send implements section 4.1.5. It is installed on the handler at
// construction time and is the only path by which handler-produced
// messages reach an HTTP connection.
func (t *Transport) send(sessionID string, msg *jsonrpc.Message, opts *SendOptions) error {
	if msg.IsResponseLike() {
		return t.deliverResponse(sessionID, msg)
	}
	return t.deliverServerInitiated(sessionID, msg, opts)
}

func (t *Transport) deliverResponse(sessionID string, msg *jsonrpc.Message) error {
	if msg.ID == nil {
		return fmt.Errorf("transport: response message has no id")
	}
	sess, ok := t.sessions.Get(sessionID)
	if !ok || sess == nil {
		// No match: silently drop per section 4.1.5.
		return nil
	}
	pr, ok := sess.LookupPendingRequest(msg.ID.String())
	if !ok {
		return nil
	}
	pr.Resolve(msg, func(m *jsonrpc.Message) {
		t.deliverToWaiter(sess, pr, m)
	})
	sess.DeletePendingRequest(msg.ID.String())
	return nil
}

func (t *Transport) deliverToWaiter(sess *session.Session, pr *session.PendingRequest, msg *jsonrpc.Message) {
	if pr.Waiter.JSONChan != nil {
		select {
		case pr.Waiter.JSONChan <- msg:
		default:
		}
		return
	}
	if pr.Waiter.Stream != nil {
		if err := pr.Waiter.Stream.WriteEvent(msg); err != nil {
			sess.Logger().Debug("write correlated response failed", zap.Error(err))
		}
		pr.Waiter.Stream.Close()
	}
}

// deliverServerInitiated handles a server-initiated request or
// notification. Priority matches section 4.1.5's delivery rules: a
// RelatedRequestID routes straight to that request's own stream (a
// progress notification tied to one in-flight call, per
// victorvbello's streamablehttp.go); failing that, stateful mode prefers
// whatever POST stream is currently open; failing that, it fans out to
// every active SSE stream. Stateless mode only ever has the current POST
// stream.
func (t *Transport) deliverServerInitiated(sessionID string, msg *jsonrpc.Message, opts *SendOptions) error {
	sess, ok := t.sessions.Get(sessionID)
	if !ok || sess == nil {
		return nil
	}
	if opts != nil && opts.RelatedRequestID != nil {
		if pr, ok := sess.LookupPendingRequest(opts.RelatedRequestID.String()); ok && pr.Waiter.Stream != nil {
			return pr.Waiter.Stream.WriteEvent(msg)
		}
	}
	if post := sess.CurrentPostStream(); post != nil {
		return post.WriteEvent(msg)
	}
	if sess.Stateless {
		return nil
	}
	streams := sess.Streams()
	if len(streams) == 0 {
		return nil
	}
	// One event id per logical broadcast, stamped identically on every
	// stream it reaches, so P1 ("no id repeats") holds session-wide
	// rather than per stream. RecordEvent allocates the id and appends it
	// to the session's replay ring in the same critical section, so two
	// concurrent broadcasts on this session can never have their id
	// allocation and ring insertion interleave (P7: replay must come back
	// in strictly increasing id order).
	eventID := sess.RecordEvent(msg, t.cfg.enableResumability)
	for _, st := range streams {
		writer, ok := st.(interface {
			WriteEventWithID(uint64, *jsonrpc.Message) error
		})
		if !ok {
			continue
		}
		if err := writer.WriteEventWithID(eventID, msg); err != nil {
			sess.Logger().Debug("fan-out write failed", zap.Error(err))
		}
	}
	return nil
}

func newSessionID() string {
	return uuid.NewString()
}
