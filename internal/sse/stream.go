// Package sse implements the SSE stream primitive: the wire event encoding
// of section 4.1.6, grounded on gate4ai's responseToStream goroutine
// (server/transport/handle-mcp2025-POST.go) for the write-and-flush loop.
// Replay history itself lives one level up, on session.Session -- see that
// package's doc comment for why.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"go.uber.org/zap"
)

// Stream is one active outbound SSE connection. It owns the
// http.ResponseWriter for its lifetime and an active flag flipped once on
// Close. Replay history lives on the owning session (see
// session.Session.RecordEvent/ReplayAfter), not here: a Stream dies with its
// connection, which is exactly the moment resumability needs to survive.
type Stream struct {
	id           string
	w            http.ResponseWriter
	flusher      http.Flusher
	resumability bool
	mu           sync.Mutex
	active       bool
	closeCh      chan struct{}
	closeOnce    sync.Once
	logger       *zap.Logger
}

func New(id string, w http.ResponseWriter, resumability bool, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	flusher, _ := w.(http.Flusher)
	return &Stream{
		id:           id,
		w:            w,
		flusher:      flusher,
		resumability: resumability,
		active:       true,
		closeCh:      make(chan struct{}),
		logger:       logger.With(zap.String("stream_id", id)),
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Done is closed when the stream is closed, for goroutines selecting
// alongside a request context's Done channel.
func (s *Stream) Done() <-chan struct{} { return s.closeCh }

// WriteEvent encodes msg as one SSE "message" event and flushes
// immediately. No "id:" field is emitted and nothing is recorded in the
// history ring -- used for POST-originated streams, which never need
// replay (section 4.1.6: "only when enableResumability && stateful").
func (s *Stream) WriteEvent(msg *jsonrpc.Message) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("sse: stream %s is closed", s.id)
	}
	s.mu.Unlock()
	return s.writeEncoded(msg, 0, false)
}

// WriteEventWithID writes a pre-assigned event id -- always the session's
// single monotonic counter, never a stream-local one, so property P1 ("no
// id repeats" across the whole session) holds even when a session has
// several concurrent GET streams. Recording the entry for replay is the
// caller's job (see session.Session.RecordEvent), since that history must
// outlive this one connection.
func (s *Stream) WriteEventWithID(eventID uint64, msg *jsonrpc.Message) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("sse: stream %s is closed", s.id)
	}
	s.mu.Unlock()
	return s.writeEncoded(msg, eventID, s.resumability)
}

func (s *Stream) writeEncoded(msg *jsonrpc.Message, eventID uint64, withID bool) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(s.w)
	if withID {
		if _, err := fmt.Fprintf(bw, "id: %d\n", eventID); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("event: message\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "data: %s\n\n", payload); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		close(s.closeCh)
	})
}
