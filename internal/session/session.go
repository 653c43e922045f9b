// Package session implements the Session aggregate and SessionStore
// persistence contract described by the transport: per-session SSE
// streams, pending-request correlation, and the initialize gating state
// machine, grounded on gate4ai's shared.BaseSession / shared.RequestManager
// pair but collapsed into one lock-guarded struct per session rather than
// a session plus a separately-owned manager, since this transport (unlike
// gate4ai's gateway) has no need to address a session from outside an
// active HTTP request.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"go.uber.org/zap"
)

// Status is the initialize gating state machine of section 4.1.7.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusInitialized
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusInitialized:
		return "initialized"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stream is the subset of *sse.Stream the session needs to own streams
// without importing package sse -- kept minimal so session stays
// independent of the SSE wire code.
type Stream interface {
	ID() string
	Close()
}

// historyLimit bounds the session-level replay ring, mirroring the
// per-stream cap SSE implementations typically use for backlog.
const historyLimit = 100

// HistoryEntry is one replayable (eventId, message) record.
type HistoryEntry struct {
	EventID uint64
	Message *jsonrpc.Message
}

// Session is the aggregate described by the data model: streams, pending
// requests, the monotonic event-id counter, and the gating state.
type Session struct {
	ID    string
	Stateless bool

	mu              sync.RWMutex
	status          Status
	protocolVersion string
	sseStreams      map[string]Stream
	pendingRequests map[string]*PendingRequest
	// currentPostStream is a per-session field, not a transport-scoped
	// global -- the one transport-scoped global (spec.md section 9) kept
	// as an instance field rather than passed explicitly, since the
	// source stores it the same way. Set for the duration of one
	// handleRequestSSE call; a second concurrent POST on this session
	// overwrites it, same as upstream. A server-initiated send carrying a
	// SendOptions.RelatedRequestID bypasses this field and targets that
	// request's own PendingRequest.Waiter.Stream instead.
	currentPostStream StreamWriter
	history         []HistoryEntry // session-scoped, so it survives a GET stream's disconnect/reconnect

	eventSeq     uint64 // guarded by mu, not atomic: see RecordEvent
	lastActivity atomic.Value // time.Time

	logger *zap.Logger
}

func New(id string, stateless bool, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		ID:              id,
		Stateless:       stateless,
		status:          StatusUninitialized,
		protocolVersion: jsonrpc.DefaultProtocolVersion,
		sseStreams:      make(map[string]Stream),
		pendingRequests: make(map[string]*PendingRequest),
		logger:          logger.With(zap.String("session_id", id)),
	}
	s.Touch()
	return s
}

func (s *Session) Logger() *zap.Logger { return s.logger }

func (s *Session) Touch() {
	s.lastActivity.Store(time.Now())
}

func (s *Session) LastActivity() time.Time {
	v := s.lastActivity.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// BeginInitialize transitions Uninitialized/Initializing/Initialized ->
// Initializing, matching "a second initialize on an already-initializing
// or initialized session causes termination-and-recreate" -- the caller is
// responsible for creating a fresh Session; this just marks the state on
// whichever Session instance ends up owning the id.
func (s *Session) BeginInitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusInitializing
}

// CompleteInitialize handles "notifications/initialized": Initializing ->
// Initialized. Invariant 6 (initialized => !initializing) holds because
// status is a single field, never both flags at once.
func (s *Session) CompleteInitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusInitializing {
		s.status = StatusInitialized
	}
}

func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

func (s *Session) SetProtocolVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = v
}

// RecordEvent allocates the next monotonic SSE event id for this session
// and, when record is true, appends (id, msg) to the replay ring -- both
// under the same lock. Allocation and ring insertion must not be two
// separate critical sections: two concurrent broadcasts (each request is
// dispatched on its own goroutine, see mcpserver.Server.handleRequest)
// could otherwise get ids 5 and 6 but append to history in the order 6,
// 5, breaking P7's "replay comes back in strictly increasing id order".
// Owned by the session rather than by any one connection's Stream, since
// the whole point of Last-Event-ID resumability is surviving exactly the
// disconnect that would destroy a per-stream ring.
func (s *Session) RecordEvent(msg *jsonrpc.Message, record bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	id := s.eventSeq
	if record {
		s.history = append(s.history, HistoryEntry{EventID: id, Message: msg})
		if len(s.history) > historyLimit {
			s.history = s.history[len(s.history)-historyLimit:]
		}
	}
	return id
}

// ReplayAfter returns every recorded entry with eventId > lastID, in
// ascending order, for property P7.
func (s *Session) ReplayAfter(lastID uint64) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []HistoryEntry
	for _, e := range s.history {
		if e.EventID > lastID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Session) AddStream(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sseStreams[stream.ID()] = stream
}

func (s *Session) RemoveStream(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sseStreams, id)
}

func (s *Session) Streams() []Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stream, 0, len(s.sseStreams))
	for _, st := range s.sseStreams {
		out = append(out, st)
	}
	return out
}

func (s *Session) SetCurrentPostStream(w StreamWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPostStream = w
}

func (s *Session) ClearCurrentPostStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPostStream = nil
}

func (s *Session) CurrentPostStream() StreamWriter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPostStream
}

// RegisterPendingRequest stores pr under its JSON-RPC id. Invariant 2
// requires uniqueness within one session; a duplicate id overwrites the
// prior entry, matching "deleted on resolution, timeout, or termination"
// discipline upstream (the transport never registers the same id twice
// for a live request).
func (s *Session) RegisterPendingRequest(pr *PendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRequests[pr.ID.String()] = pr
}

func (s *Session) LookupPendingRequest(id string) (*PendingRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.pendingRequests[id]
	return pr, ok
}

func (s *Session) DeletePendingRequest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingRequests, id)
}

func (s *Session) PendingRequestIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pendingRequests))
	for id := range s.pendingRequests {
		ids = append(ids, id)
	}
	return ids
}

// Terminate closes every SSE stream, drops all pending requests after
// resolving each with the "Session terminated" error, and marks the
// session Terminated. Safe to call more than once.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.status == StatusTerminated {
		s.mu.Unlock()
		return
	}
	s.status = StatusTerminated
	streams := make([]Stream, 0, len(s.sseStreams))
	for _, st := range s.sseStreams {
		streams = append(streams, st)
	}
	s.sseStreams = make(map[string]Stream)
	pending := make([]*PendingRequest, 0, len(s.pendingRequests))
	for _, pr := range s.pendingRequests {
		pending = append(pending, pr)
	}
	s.pendingRequests = make(map[string]*PendingRequest)
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
	for _, pr := range pending {
		id := pr.ID
		pr.Resolve(jsonrpc.NewErrorResponse(&id, jsonrpc.ErrCodeTransportOrSession, "Session terminated"), func(msg *jsonrpc.Message) {
			deliverTerminated(pr, msg)
		})
	}
	s.logger.Info("session terminated")
}

func deliverTerminated(pr *PendingRequest, msg *jsonrpc.Message) {
	if pr.Waiter.JSONChan != nil {
		select {
		case pr.Waiter.JSONChan <- msg:
		default:
		}
		return
	}
	if pr.Waiter.Stream != nil {
		_ = pr.Waiter.Stream.WriteEvent(msg)
		pr.Waiter.Stream.Close()
	}
}
