// Package auth implements the bearer-token AuthMiddleware of section 4.3,
// generalized from gate4ai's server/transport/authentication.go API-key-hash
// model to a pluggable bearer-token verifier with scope checking.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/transport"
	"go.uber.org/zap"
)

// ErrInvalidToken is returned by a Verifier to signal an unrecognized or
// expired token, distinct from a verifier-internal failure.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Verifier resolves a bearer token to AuthInfo, or returns ErrInvalidToken
// (or any other error, which also becomes a 401, carrying that error's
// message).
type Verifier func(r *http.Request, token string) (*transport.AuthInfo, error)

// Middleware wraps an http.Handler-shaped function with bearer-token
// extraction, verification, and scope enforcement.
type Middleware struct {
	Verify               Verifier
	Realm                string
	RequiredScopes       []string
	AllowUnauthenticated bool
	Logger               *zap.Logger
}

func New(verify Verifier, realm string) *Middleware {
	return &Middleware{Verify: verify, Realm: realm, Logger: zap.NewNop()}
}

// Handle extracts and verifies the bearer token, then invokes next with
// the resolved AuthInfo threaded through opts.Auth.
func (m *Middleware) Handle(next func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions), w http.ResponseWriter, r *http.Request) {
	token := extractBearer(r)

	if token == "" {
		if m.AllowUnauthenticated {
			next(w, r, &transport.RequestOptions{Auth: &transport.AuthInfo{Claims: map[string]interface{}{}, Scopes: nil}})
			return
		}
		m.unauthorized(w, "Unauthorized")
		return
	}

	info, err := m.Verify(r, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			m.unauthorized(w, "Invalid or expired token")
			return
		}
		m.unauthorized(w, err.Error())
		return
	}
	if info == nil {
		m.unauthorized(w, "Invalid or expired token")
		return
	}

	for _, required := range m.RequiredScopes {
		if !hasScope(info.Scopes, required) {
			m.forbidden(w)
			return
		}
	}

	next(w, r, &transport.RequestOptions{Auth: info})
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", m.Realm))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	body := jsonrpc.NewErrorMessage(jsonrpc.ErrCodeTransportOrSession, message)
	writeJSON(w, body)
}

func (m *Middleware) forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	body := jsonrpc.NewErrorMessage(jsonrpc.ErrCodeForbiddenScope, "Forbidden: missing required scope")
	writeJSON(w, body)
}
