package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gate4ai/streamhttp/internal/auth"
	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyStatic(valid map[string]*transport.AuthInfo) auth.Verifier {
	return func(r *http.Request, token string) (*transport.AuthInfo, error) {
		info, ok := valid[token]
		if !ok {
			return nil, auth.ErrInvalidToken
		}
		return info, nil
	}
}

func TestMiddleware_MissingToken_Unauthorized(t *testing.T) {
	mw := auth.New(verifyStatic(nil), "example")

	var called bool
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	mw.Handle(func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions) {
		called = true
	}, rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="example"`)
}

func TestMiddleware_AllowUnauthenticated_PassesEmptyAuthInfo(t *testing.T) {
	mw := auth.New(verifyStatic(nil), "example")
	mw.AllowUnauthenticated = true

	var gotOpts *transport.RequestOptions
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	mw.Handle(func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions) {
		gotOpts = opts
		w.WriteHeader(http.StatusOK)
	}, rec, req)

	require.NotNil(t, gotOpts)
	require.NotNil(t, gotOpts.Auth)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_InvalidToken_Unauthorized(t *testing.T) {
	mw := auth.New(verifyStatic(nil), "example")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	mw.Handle(func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions) {
		t.Fatal("next should not be called for an invalid token")
	}, rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	errObj := decoded["error"].(map[string]any)
	assert.Contains(t, errObj["message"], "Invalid or expired token")
}

func TestMiddleware_ValidToken_MissingScope_Forbidden(t *testing.T) {
	valid := map[string]*transport.AuthInfo{
		"good-token": {Token: "good-token", Scopes: []string{"read"}},
	}
	mw := auth.New(verifyStatic(valid), "example")
	mw.RequiredScopes = []string{"write"}

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.Handle(func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions) {
		t.Fatal("next should not be called when a required scope is missing")
	}, rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	errObj := decoded["error"].(map[string]any)
	assert.EqualValues(t, jsonrpc.ErrCodeForbiddenScope, errObj["code"])
}

func TestMiddleware_ValidToken_WithScope_CallsNext(t *testing.T) {
	valid := map[string]*transport.AuthInfo{
		"good-token": {Token: "good-token", Scopes: []string{"read", "write"}},
	}
	mw := auth.New(verifyStatic(valid), "example")
	mw.RequiredScopes = []string{"write"}

	var gotAuth *transport.AuthInfo
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.Handle(func(w http.ResponseWriter, r *http.Request, opts *transport.RequestOptions) {
		gotAuth = opts.Auth
		w.WriteHeader(http.StatusOK)
	}, rec, req)

	require.NotNil(t, gotAuth)
	assert.Equal(t, "good-token", gotAuth.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
}
