package transport

import (
	"context"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
)

// AuthInfo is threaded from AuthMiddleware through RequestOptions down to
// the handler, mirroring section 4.3's authInfo object.
type AuthInfo struct {
	Token  string
	Claims map[string]interface{}
	Scopes []string
}

// RequestOptions carries the optional auth info for one HandleRequest
// call. Cancellation is observed via the *http.Request's own context
// rather than a bespoke signal field (see SPEC_FULL section 5).
type RequestOptions struct {
	Auth *AuthInfo
}

// RequestExtra is passed to the handler alongside each inbound message:
// enough context to reply without the handler needing to know about HTTP
// at all.
type RequestExtra struct {
	Context   context.Context
	SessionID string
	Auth      *AuthInfo
}

// SendOptions mirrors section 4.1.5's delivery rules: RelatedRequestID,
// when set, tells the transport to prefer delivering alongside that
// request's stream rather than fanning out, matching a handler emitting a
// progress notification tied to a specific in-flight call.
type SendOptions struct {
	RelatedRequestID *jsonrpc.RequestID
}

// Handler is the external collaborator described by section 6.2: an
// opaque MCP message handler wired to the transport via onmessage/send.
// The transport calls Start once before first use, OnMessage for every
// inbound message, and Close on shutdown; the handler calls back through
// the send function installed via SetSend.
type Handler interface {
	Start(ctx context.Context) error
	Close() error
	OnMessage(msg *jsonrpc.Message, extra *RequestExtra)
	SetSend(send func(sessionID string, msg *jsonrpc.Message, opts *SendOptions) error)
}
