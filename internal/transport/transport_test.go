package transport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testHandler is a minimal transport.Handler stand-in: onRequest decides
// how (and whether) to reply to each inbound request, letting each test
// drive the handler side of the onmessage/send contract explicitly.
type testHandler struct {
	mu        sync.Mutex
	send      func(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error
	onRequest func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra)
	onNotify  func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra)
}

func (h *testHandler) Start(ctx context.Context) error { return nil }
func (h *testHandler) Close() error                    { return nil }

func (h *testHandler) SetSend(send func(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.send = send
}

func (h *testHandler) Send(sessionID string, msg *jsonrpc.Message, opts *transport.SendOptions) error {
	h.mu.Lock()
	send := h.send
	h.mu.Unlock()
	return send(sessionID, msg, opts)
}

func (h *testHandler) OnMessage(msg *jsonrpc.Message, extra *transport.RequestExtra) {
	switch msg.Kind() {
	case jsonrpc.KindRequest:
		if h.onRequest != nil {
			h.onRequest(h, msg, extra)
		}
	case jsonrpc.KindNotification:
		if h.onNotify != nil {
			h.onNotify(h, msg, extra)
		}
	}
}

func echoReplyImmediately(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra) {
	result := json.RawMessage(`{"echoed":true}`)
	go h.Send(extra.SessionID, &jsonrpc.Message{ID: msg.ID, Result: &result}, nil)
}

func newRequestBody(id int64, method string) string {
	return `{"jsonrpc":"2.0","id":` + strconv.FormatInt(id, 10) + `,"method":"` + method + `"}`
}

func postRequest(t *testing.T, tr *transport.Transport, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	tr.HandleRequest(rec, req, nil)
	return rec
}

// --- Scenario 1: happy init + call, stateless, SSE ---

func TestScenario1_HappyInitAndCall_StatelessSSE(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, newRequestBody(1, "initialize"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
	assert.Contains(t, rec.Body.String(), `"id":1`)
	sessionID := rec.Header().Get("Mcp-Session-Id")

	notifBody := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	rec2 := postRequest(t, tr, notifBody, map[string]string{"Mcp-Session-Id": sessionID})
	assert.Equal(t, http.StatusAccepted, rec2.Code)
	assert.Empty(t, rec2.Body.String())

	rec3 := postRequest(t, tr, newRequestBody(2, "tools/call"), map[string]string{"Mcp-Session-Id": sessionID})
	assert.Equal(t, http.StatusOK, rec3.Code)
	assert.Contains(t, rec3.Body.String(), `"id":2`)
}

// --- Scenario 2: JSON response mode ---

func TestScenario2_JSONResponseMode(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithJSONResponse(true))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, newRequestBody(1, "initialize"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.EqualValues(t, 1, decoded["id"])
	assert.Contains(t, decoded, "result")
}

// --- Scenario 3: origin rejection ---

func TestScenario3_OriginRejection(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer tr.Close()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(newRequestBody(1, "initialize")))
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	tr.HandleRequest(rec, req, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Nil(t, decoded["id"])
	errObj := decoded["error"].(map[string]any)
	assert.EqualValues(t, jsonrpc.ErrCodeTransportOrSession, errObj["code"])
}

// --- Scenario 4: timeout ---

func TestScenario4_Timeout(t *testing.T) {
	h := &testHandler{onRequest: func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra) {
		// Handler never replies.
	}}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithRequestTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, newRequestBody(7, "tools/call"), nil)
	body := rec.Body.String()
	assert.Contains(t, body, `"id":7`)
	assert.Contains(t, body, strconv.Itoa(jsonrpc.ErrCodeRequestTimedOut))
	assert.Contains(t, body, "Request timed out")
}

func TestScenario4_Timeout_JSONMode(t *testing.T) {
	h := &testHandler{onRequest: func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra) {}}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithJSONResponse(true), transport.WithRequestTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, newRequestBody(7, "tools/call"), nil)
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
}

// --- Scenario 5: stateful DELETE ---

func TestScenario5_StatefulDelete(t *testing.T) {
	holdResponses := make(chan struct{})
	defer close(holdResponses)
	h := &testHandler{}
	h.onRequest = func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra) {
		if msg.Method != nil && *msg.Method == "initialize" {
			go echoReplyImmediately(h, msg, extra)
			return
		}
		// Held request: only replies after the test closes holdResponses,
		// simulating "a POST request the handler holds".
		go func() {
			<-holdResponses
			result := json.RawMessage(`{}`)
			_ = h.Send(extra.SessionID, &jsonrpc.Message{ID: msg.ID, Result: &result}, nil)
		}()
	}

	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithStateful(true))
	require.NoError(t, err)
	defer tr.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		tr.HandleRequest(w, r, nil)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := server.Client()

	initReq, _ := http.NewRequest(http.MethodPost, server.URL+"/mcp", strings.NewReader(newRequestBody(1, "initialize")))
	initReq.Header.Set("Accept", "application/json, text/event-stream")
	initReq.Header.Set("Content-Type", "application/json")
	initResp, err := client.Do(initReq)
	require.NoError(t, err)
	sessionID := initResp.Header.Get("Mcp-Session-Id")
	io.Copy(io.Discard, initResp.Body)
	initResp.Body.Close()
	require.NotEmpty(t, sessionID)

	getReq, _ := http.NewRequest(http.MethodGet, server.URL+"/mcp", nil)
	getReq.Header.Set("Accept", "text/event-stream")
	getReq.Header.Set("Mcp-Session-Id", sessionID)
	getResp, err := client.Do(getReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	pendingDone := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/mcp", strings.NewReader(newRequestBody(9, "tools/call")))
		req.Header.Set("Accept", "application/json, text/event-stream")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Mcp-Session-Id", sessionID)
		resp, err := client.Do(req)
		require.NoError(t, err)
		pendingDone <- resp
	}()
	time.Sleep(50 * time.Millisecond) // give the POST time to register its pending request

	delReq, _ := http.NewRequest(http.MethodDelete, server.URL+"/mcp", nil)
	delReq.Header.Set("Mcp-Session-Id", sessionID)
	delResp, err := client.Do(delReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	select {
	case resp := <-pendingDone:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(body), "Session terminated")
		assert.Contains(t, string(body), strconv.Itoa(jsonrpc.ErrCodeTransportOrSession))
	case <-time.After(2 * time.Second):
		t.Fatal("held request never resolved after DELETE")
	}

	_, err = io.ReadAll(getResp.Body) // GET stream should close once the session is terminated
	getResp.Body.Close()
	assert.NoError(t, err)

	postAfterDelete, _ := http.NewRequest(http.MethodPost, server.URL+"/mcp", strings.NewReader(newRequestBody(10, "tools/call")))
	postAfterDelete.Header.Set("Accept", "application/json, text/event-stream")
	postAfterDelete.Header.Set("Content-Type", "application/json")
	postAfterDelete.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := client.Do(postAfterDelete)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// --- Scenario 6: resumability ---

func TestScenario6_Resumability(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	h.onNotify = func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra) {
		// The client's notification triggers a server-initiated notification
		// on the session, fanned out to every connected GET stream -- this
		// is the path that exercises the session's monotonic event-id
		// counter and the session's history ring.
		method := "notifications/progress"
		_ = h.Send(extra.SessionID, &jsonrpc.Message{Method: &method}, nil)
	}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithStateful(true), transport.WithResumability(true))
	require.NoError(t, err)
	defer tr.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		tr.HandleRequest(w, r, nil)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	client := server.Client()

	initResp := doPost(t, client, server.URL, newRequestBody(1, "initialize"), "")
	sessionID := initResp.Header.Get("Mcp-Session-Id")
	io.Copy(io.Discard, initResp.Body)
	initResp.Body.Close()

	getCtx, cancelGet := context.WithCancel(context.Background())
	getReq, _ := http.NewRequestWithContext(getCtx, http.MethodGet, server.URL+"/mcp", nil)
	getReq.Header.Set("Accept", "text/event-stream")
	getReq.Header.Set("Mcp-Session-Id", sessionID)
	getResp, err := client.Do(getReq)
	require.NoError(t, err)

	scanner := bufio.NewScanner(getResp.Body)
	var seenIDs []string
	readEventID := func() string {
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "id: ") {
				return strings.TrimPrefix(line, "id: ")
			}
		}
		return ""
	}

	// Drive four notifications through the session so the GET stream
	// receives events 1..4 and the session records them in its history
	// ring.
	for i := 0; i < 4; i++ {
		postNotify(t, client, server.URL, sessionID)
		seenIDs = append(seenIDs, readEventID())
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, seenIDs)

	cancelGet()
	getResp.Body.Close()

	reconnectReq, _ := http.NewRequest(http.MethodGet, server.URL+"/mcp", nil)
	reconnectReq.Header.Set("Accept", "text/event-stream")
	reconnectReq.Header.Set("Mcp-Session-Id", sessionID)
	reconnectReq.Header.Set("Last-Event-ID", "2")
	reconnectCtx, cancelReconnect := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelReconnect()
	reconnectReq = reconnectReq.WithContext(reconnectCtx)
	reconnectResp, err := client.Do(reconnectReq)
	require.NoError(t, err)
	defer reconnectResp.Body.Close()

	replayScanner := bufio.NewScanner(reconnectResp.Body)
	var replayed []string
	for len(replayed) < 2 && replayScanner.Scan() {
		line := replayScanner.Text()
		if strings.HasPrefix(line, "id: ") {
			replayed = append(replayed, strings.TrimPrefix(line, "id: "))
		}
	}
	assert.Equal(t, []string{"3", "4"}, replayed)
}

func doPost(t *testing.T, client *http.Client, baseURL, body, sessionID string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/mcp", strings.NewReader(body))
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func postNotify(t *testing.T, client *http.Client, baseURL, sessionID string) {
	t.Helper()
	body := `{"jsonrpc":"2.0","method":"notifications/progress"}`
	resp := doPost(t, client, baseURL, body, sessionID)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// --- RelatedRequestID routing ---

func TestRelatedRequestID_RoutesToThatRequestsStreamNotFanOut(t *testing.T) {
	// A notification carrying RelatedRequestID must land on the stream of
	// the request it's related to, even with an unrelated GET stream also
	// open on the same session -- it must not be fanned out broadly.
	var relatedID *jsonrpc.RequestID
	released := make(chan struct{})
	h := &testHandler{}
	h.onRequest = func(h *testHandler, msg *jsonrpc.Message, extra *transport.RequestExtra) {
		go func() {
			<-released
			method := "notifications/progress"
			_ = h.Send(extra.SessionID, &jsonrpc.Message{Method: &method}, &transport.SendOptions{RelatedRequestID: relatedID})
			result := json.RawMessage(`{}`)
			_ = h.Send(extra.SessionID, &jsonrpc.Message{ID: msg.ID, Result: &result}, nil)
		}()
	}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithStateful(true))
	require.NoError(t, err)
	defer tr.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		tr.HandleRequest(w, r, nil)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	client := server.Client()

	initResp := doPost(t, client, server.URL, newRequestBody(1, "initialize"), "")
	sessionID := initResp.Header.Get("Mcp-Session-Id")
	io.Copy(io.Discard, initResp.Body)
	initResp.Body.Close()

	getReq, _ := http.NewRequest(http.MethodGet, server.URL+"/mcp", nil)
	getReq.Header.Set("Accept", "text/event-stream")
	getReq.Header.Set("Mcp-Session-Id", sessionID)
	getResp, err := client.Do(getReq)
	require.NoError(t, err)
	defer getResp.Body.Close()

	callID := jsonrpc.NewNumberID(42)
	relatedID = &callID
	callDone := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/mcp", strings.NewReader(newRequestBody(42, "tools/call")))
		req.Header.Set("Accept", "application/json, text/event-stream")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Mcp-Session-Id", sessionID)
		resp, err := client.Do(req)
		require.NoError(t, err)
		callDone <- resp
	}()
	time.Sleep(50 * time.Millisecond) // give the POST time to register its pending request
	close(released)

	resp := <-callDone
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	// The related notification plus the final result both arrive on the
	// call's own SSE stream -- not on the unrelated GET stream.
	assert.Contains(t, string(body), "notifications/progress")
	assert.Contains(t, string(body), `"id":42`)
}

// --- Additional invariant coverage ---

func TestP3_BatchRejected(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), strconv.Itoa(jsonrpc.ErrCodeInvalidRequest))
}

func TestP4_AcceptHeaderRequired(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer tr.Close()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(newRequestBody(1, "initialize")))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	tr.HandleRequest(rec, req, nil)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestP8_StatelessNeverReturns404(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, newRequestBody(1, "tools/call"), map[string]string{"Mcp-Session-Id": "unknown-but-stateless"})
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestStatefulMode_UnknownSessionIs404(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()), transport.WithStateful(true))
	require.NoError(t, err)
	defer tr.Close()

	rec := postRequest(t, tr, newRequestBody(1, "tools/call"), map[string]string{"Mcp-Session-Id": "does-not-exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed_SetsAllowHeader(t *testing.T) {
	h := &testHandler{onRequest: echoReplyImmediately}
	tr, err := transport.New(h, transport.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer tr.Close()

	req := httptest.NewRequest(http.MethodPut, "/mcp", nil)
	rec := httptest.NewRecorder()
	tr.HandleRequest(rec, req, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, DELETE", rec.Header().Get("Allow"))
}
