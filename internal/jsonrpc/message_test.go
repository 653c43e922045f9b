package jsonrpc_test

import (
	"encoding/json"
	"testing"

	"github.com/gate4ai/streamhttp/internal/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_RoundTripsStringAndNumber(t *testing.T) {
	num := jsonrpc.NewNumberID(7)
	data, err := json.Marshal(num)
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))

	str := jsonrpc.NewStringID("abc")
	data, err = json.Marshal(str)
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(data))

	var decoded jsonrpc.RequestID
	require.NoError(t, json.Unmarshal([]byte("42"), &decoded))
	assert.Equal(t, "42", decoded.String())

	require.NoError(t, json.Unmarshal([]byte(`"xyz"`), &decoded))
	assert.Equal(t, "xyz", decoded.String())
}

func TestMessage_Kind(t *testing.T) {
	method := "tools/call"
	id := jsonrpc.NewNumberID(1)
	result := json.RawMessage(`{"ok":true}`)

	req := &jsonrpc.Message{ID: &id, Method: &method}
	assert.Equal(t, jsonrpc.KindRequest, req.Kind())

	notif := &jsonrpc.Message{Method: &method}
	assert.Equal(t, jsonrpc.KindNotification, notif.Kind())

	resp := &jsonrpc.Message{ID: &id, Result: &result}
	assert.Equal(t, jsonrpc.KindResponse, resp.Kind())
	assert.True(t, resp.IsResponseLike())

	errResp := &jsonrpc.Message{ID: &id, Error: &jsonrpc.ErrorObject{Code: -32000, Message: "boom"}}
	assert.Equal(t, jsonrpc.KindErrorResponse, errResp.Kind())
	assert.True(t, errResp.IsResponseLike())
}

func TestParseBody_RejectsBatch(t *testing.T) {
	_, err := jsonrpc.ParseBody([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`))
	assert.ErrorIs(t, err, jsonrpc.ErrBatchNotSupported)
}

func TestParseBody_RejectsMalformedJSON(t *testing.T) {
	_, err := jsonrpc.ParseBody([]byte(`not json`))
	require.Error(t, err)
}

func TestParseBody_AcceptsSingleRequest(t *testing.T) {
	msg, err := jsonrpc.ParseBody([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, jsonrpc.KindRequest, msg.Kind())
}

func TestSupportedProtocolVersions(t *testing.T) {
	assert.True(t, jsonrpc.IsSupportedProtocolVersion("2024-11-05"))
	assert.True(t, jsonrpc.IsSupportedProtocolVersion("2025-03-26"))
	assert.True(t, jsonrpc.IsSupportedProtocolVersion("2025-06-18"))
	assert.False(t, jsonrpc.IsSupportedProtocolVersion("2024-10-07"))
	assert.Equal(t, "2025-03-26", jsonrpc.DefaultProtocolVersion)
}
