package mcpserver_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/transport"
	"github.com/gate4ai/streamhttp/mcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedSend struct {
	mu  sync.Mutex
	msg *jsonrpc.Message
}

func newCapture() (*capturedSend, func(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error) {
	c := &capturedSend{}
	return c, func(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.msg = msg
		return nil
	}
}

func (c *capturedSend) waitForMessage(t *testing.T) *jsonrpc.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		msg := c.msg
		c.mu.Unlock()
		if msg != nil {
			return msg
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a reply via send")
	return nil
}

func newTestServer() (*mcpserver.Server, *capturedSend) {
	srv := mcpserver.New(mcpserver.Info{Name: "test", Version: "0.0.1"}, zap.NewNop())
	capture, send := newCapture()
	srv.SetSend(send)
	return srv, capture
}

func requestMessage(id int64, method string, params json.RawMessage) *jsonrpc.Message {
	rid := jsonrpc.NewNumberID(id)
	m := &jsonrpc.Message{ID: &rid, Method: &method}
	if params != nil {
		m.Params = &params
	}
	return m
}

func TestServer_Initialize(t *testing.T) {
	srv, capture := newTestServer()
	srv.OnMessage(requestMessage(1, "initialize", nil), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	require.NotNil(t, msg.Result)
	var result map[string]any
	require.NoError(t, json.Unmarshal(*msg.Result, &result))
	assert.Equal(t, jsonrpc.DefaultProtocolVersion, result["protocolVersion"])
	assert.Contains(t, result, "serverInfo")
}

func TestServer_Ping(t *testing.T) {
	srv, capture := newTestServer()
	srv.OnMessage(requestMessage(2, "ping", nil), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	assert.Nil(t, msg.Error)
	require.NotNil(t, msg.Result)
}

func TestServer_ToolsList_ReflectsRegisteredTools(t *testing.T) {
	srv, capture := newTestServer()
	srv.AddTool("echo", "echoes input", json.RawMessage(`{}`), func(ctx context.Context, arguments json.RawMessage) (json.RawMessage, error) {
		return arguments, nil
	})

	srv.OnMessage(requestMessage(3, "tools/list", nil), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	var result struct {
		Tools []mcpserver.Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(*msg.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestServer_ToolsCall_InvokesRegisteredHandler(t *testing.T) {
	srv, capture := newTestServer()
	srv.AddTool("echo", "echoes input", json.RawMessage(`{}`), func(ctx context.Context, arguments json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"type":"text","text":"hi"}`), nil
	})

	params, _ := json.Marshal(map[string]any{"name": "echo", "arguments": map[string]any{}})
	srv.OnMessage(requestMessage(4, "tools/call", params), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	require.Nil(t, msg.Error)
	assert.Contains(t, string(*msg.Result), `"hi"`)
}

func TestServer_ToolsCall_UnknownTool_RepliesError(t *testing.T) {
	srv, capture := newTestServer()
	params, _ := json.Marshal(map[string]any{"name": "does-not-exist", "arguments": map[string]any{}})
	srv.OnMessage(requestMessage(5, "tools/call", params), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	require.NotNil(t, msg.Error)
	assert.Contains(t, msg.Error.Message, "Unknown tool")
}

func TestServer_ToolsCall_HandlerError_RepliesIsErrorContent(t *testing.T) {
	srv, capture := newTestServer()
	srv.AddTool("failing", "always fails", json.RawMessage(`{}`), func(ctx context.Context, arguments json.RawMessage) (json.RawMessage, error) {
		return nil, assertError{}
	})
	params, _ := json.Marshal(map[string]any{"name": "failing", "arguments": map[string]any{}})
	srv.OnMessage(requestMessage(6, "tools/call", params), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	require.Nil(t, msg.Error)
	var result struct {
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(*msg.Result, &result))
	assert.True(t, result.IsError)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestServer_UnknownMethod_RepliesMethodNotFound(t *testing.T) {
	srv, capture := newTestServer()
	srv.OnMessage(requestMessage(7, "not/a/real/method", nil), &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	msg := capture.waitForMessage(t)
	require.NotNil(t, msg.Error)
	assert.Contains(t, msg.Error.Message, "Method not found")
}

func TestServer_Notification_DoesNotReply(t *testing.T) {
	srv, capture := newTestServer()
	method := "notifications/initialized"
	srv.OnMessage(&jsonrpc.Message{Method: &method}, &transport.RequestExtra{Context: context.Background(), SessionID: "s1"})

	time.Sleep(20 * time.Millisecond)
	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Nil(t, capture.msg)
}
