package sse_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/gate4ai/streamhttp/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStream_WriteEvent_Encoding(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := sse.New("s1", rec, false, zap.NewNop())

	result := json.RawMessage(`{"ok":true}`)
	id := jsonrpc.NewNumberID(1)
	require.NoError(t, stream.WriteEvent(&jsonrpc.Message{ID: &id, Result: &result}))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: message\n"), "no id: line expected without resumability")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, `"ok":true`)
}

func TestStream_WriteEventWithID_IncludesIDField(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := sse.New("s2", rec, true, zap.NewNop())

	result := json.RawMessage(`{}`)
	id := jsonrpc.NewNumberID(1)
	require.NoError(t, stream.WriteEventWithID(3, &jsonrpc.Message{ID: &id, Result: &result}))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "id: 3\nevent: message\n"))
}

func TestStream_WriteEventWithID_OmitsIDFieldWithoutResumability(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := sse.New("s3", rec, false, zap.NewNop())

	result := json.RawMessage(`{}`)
	id := jsonrpc.NewNumberID(1)
	require.NoError(t, stream.WriteEventWithID(3, &jsonrpc.Message{ID: &id, Result: &result}))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: message\n"))
	assert.NotContains(t, body, "id: 3")
}

func TestStream_CloseIsIdempotentAndClosesDone(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := sse.New("s4", rec, false, zap.NewNop())

	stream.Close()
	stream.Close()

	select {
	case <-stream.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	assert.False(t, stream.Active())
}

func TestStream_WriteEvent_FailsAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := sse.New("s5", rec, false, zap.NewNop())
	stream.Close()

	result := json.RawMessage(`{}`)
	id := jsonrpc.NewNumberID(1)
	err := stream.WriteEvent(&jsonrpc.Message{ID: &id, Result: &result})
	assert.Error(t, err)
}
