package session

import (
	"sync"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
)

// Waiter is the delivery side of a PendingRequest: either a channel a
// blocked POST handler is reading (JSON response mode) or a stream a
// correlated SSE event is written to and then closed (streaming mode).
// Go's type system makes the tagged union from the design notes a plain
// two-field struct with exactly one populated, rather than an interface --
// there are exactly two shapes and both are known here.
type Waiter struct {
	JSONChan chan *jsonrpc.Message
	Stream   StreamWriter
}

// StreamWriter is the minimum an SSE stream must offer to a PendingRequest:
// write one correlated event and close the connection. Implemented by
// *sse.Stream; kept as an interface here so that package session does not
// depend on package sse.
type StreamWriter interface {
	WriteEvent(msg *jsonrpc.Message) error
	Close()
}

// PendingRequest tracks one outstanding client-initiated request awaiting a
// handler response. Resolution is guarded by sync.Once so invariant 4
// ("resolved exactly once") holds under concurrent timeout/response/abort
// races without a hand-rolled boolean check-then-set.
type PendingRequest struct {
	ID        jsonrpc.RequestID
	SessionID string
	Waiter    Waiter
	Timer     *time.Timer
	once      sync.Once
	resolved  bool
}

// Resolve delivers msg exactly once and cancels the timeout timer. Returns
// true if this call performed the delivery, false if the request was
// already resolved by a prior timeout, response, or abort.
func (p *PendingRequest) Resolve(msg *jsonrpc.Message, deliver func(*jsonrpc.Message)) bool {
	did := false
	p.once.Do(func() {
		did = true
		p.resolved = true
		if p.Timer != nil {
			p.Timer.Stop()
		}
		deliver(msg)
	})
	return did
}

func (p *PendingRequest) Resolved() bool {
	return p.resolved
}
