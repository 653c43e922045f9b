// Package mcpserver is a minimal reference MCP message handler: just
// enough of initialize / notifications/initialized / tools/list /
// tools/call / ping to exercise and test the transport end-to-end. In
// production use the transport's handler is an opaque external
// collaborator (an existing MCP SDK); this is the stand-in a
// re-implementor is expected to supply, grounded on victorvbello's
// mcp/server/server.go (ToolHandlerFunc, MCPServer) and gate4ai's
// shared.Input method-dispatch table.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/transport"
	"go.uber.org/zap"
)

// ToolHandlerFunc executes one tools/call invocation.
type ToolHandlerFunc func(ctx context.Context, arguments json.RawMessage) (json.RawMessage, error)

// Tool is one entry in the registry exposed via tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	handler ToolHandlerFunc
}

// Info identifies the server in the initialize response, matching the
// MCP Implementation object.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server is the reference transport.Handler implementation.
type Server struct {
	info   Info
	logger *zap.Logger

	mu    sync.RWMutex
	tools map[string]*Tool

	send func(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error
}

func New(info Info, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		info:   info,
		logger: logger,
		tools:  make(map[string]*Tool),
	}
}

// AddTool registers a tool under name, callable via tools/call and
// advertised via tools/list.
func (s *Server) AddTool(name, description string, schema json.RawMessage, handler ToolHandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = &Tool{Name: name, Description: description, InputSchema: schema, handler: handler}
}

var _ transport.Handler = (*Server)(nil)

func (s *Server) Start(ctx context.Context) error { return nil }
func (s *Server) Close() error                    { return nil }

func (s *Server) SetSend(send func(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error) {
	s.send = send
}

// OnMessage dispatches one inbound message. Every reply goes out through
// s.send asynchronously -- OnMessage itself never blocks on it, matching
// the "handler does not await send" contract.
func (s *Server) OnMessage(msg *jsonrpc.Message, extra *transport.RequestExtra) {
	switch msg.Kind() {
	case jsonrpc.KindRequest:
		go s.handleRequest(msg, extra)
	case jsonrpc.KindNotification:
		s.logger.Debug("notification received", zap.String("method", strOrEmpty(msg.Method)))
	case jsonrpc.KindResponse, jsonrpc.KindErrorResponse:
		s.logger.Debug("response-from-client received", zap.String("id", msg.ID.String()))
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Server) handleRequest(msg *jsonrpc.Message, extra *transport.RequestExtra) {
	method := strOrEmpty(msg.Method)
	switch method {
	case "initialize":
		s.replyResult(extra.SessionID, *msg.ID, map[string]any{
			"protocolVersion": jsonrpc.DefaultProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      s.info,
		})
	case "ping":
		s.replyResult(extra.SessionID, *msg.ID, map[string]any{})
	case "tools/list":
		s.mu.RLock()
		list := make([]*Tool, 0, len(s.tools))
		for _, t := range s.tools {
			list = append(list, t)
		}
		s.mu.RUnlock()
		s.replyResult(extra.SessionID, *msg.ID, map[string]any{"tools": list})
	case "tools/call":
		s.handleToolsCall(msg, extra)
	default:
		s.replyError(extra.SessionID, *msg.ID, jsonrpc.ErrCodeTransportOrSession, fmt.Sprintf("Method not found: %s", method))
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(msg *jsonrpc.Message, extra *transport.RequestExtra) {
	var params toolsCallParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			s.replyError(extra.SessionID, *msg.ID, jsonrpc.ErrCodeTransportOrSession, "Invalid params")
			return
		}
	}
	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		s.replyError(extra.SessionID, *msg.ID, jsonrpc.ErrCodeTransportOrSession, fmt.Sprintf("Unknown tool: %s", params.Name))
		return
	}
	result, err := tool.handler(extra.Context, params.Arguments)
	if err != nil {
		s.replyResult(extra.SessionID, *msg.ID, map[string]any{
			"isError": true,
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
		})
		return
	}
	s.replyResult(extra.SessionID, *msg.ID, map[string]any{
		"content": []json.RawMessage{result},
	})
}

func (s *Server) replyResult(sessionID string, id jsonrpc.RequestID, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.replyError(sessionID, id, jsonrpc.ErrCodeTransportOrSession, err.Error())
		return
	}
	rawMsg := json.RawMessage(raw)
	s.deliver(sessionID, &jsonrpc.Message{ID: &id, Result: &rawMsg})
}

func (s *Server) replyError(sessionID string, id jsonrpc.RequestID, code int, message string) {
	s.deliver(sessionID, jsonrpc.NewErrorResponse(&id, code, message))
}

func (s *Server) deliver(sessionID string, msg *jsonrpc.Message) {
	if s.send == nil {
		return
	}
	if err := s.send(sessionID, msg, nil); err != nil {
		s.logger.Debug("send failed", zap.Error(err))
	}
}
