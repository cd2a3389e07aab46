package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestAndNotificationShape(t *testing.T) {
	req := NewRequest(42, MethodCallTool, CallToolParams{Name: "add"})
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "2.0", parsed["jsonrpc"])
	assert.Equal(t, float64(42), parsed["id"])
	assert.Equal(t, MethodCallTool, parsed["method"])

	// Notifications must not carry an id field at all.
	note := NewNotification(MethodInitialized, InitializedNotificationParams{})
	data, err = json.Marshal(note)
	require.NoError(t, err)
	// Unmarshal into a fresh map: decoding into a reused map keeps stale keys.
	parsed = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	_, hasID := parsed["id"]
	assert.False(t, hasID)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("req-1", CodeToolNotFound, "tool \"multiply\" not found")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeToolNotFound, resp.Error.Code)
	assert.Nil(t, resp.Result)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"code":-32000`)
}

func TestUnmarshalPayloadPreservesNumberKind(t *testing.T) {
	raw := json.RawMessage(`{"name":"add","arguments":{"a":2.5,"b":3}}`)

	var params CallToolParams
	require.NoError(t, UnmarshalPayload(raw, &params))

	a, ok := params.Arguments["a"].(json.Number)
	require.True(t, ok, "expected json.Number, got %T", params.Arguments["a"])
	assert.Equal(t, "2.5", a.String())

	b, ok := params.Arguments["b"].(json.Number)
	require.True(t, ok)
	assert.Equal(t, "3", b.String())
}

func TestUnmarshalPayloadRemarshalsDecodedValues(t *testing.T) {
	// Results that were built as structs survive the round trip through an
	// interface{} field.
	payload := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      Implementation{Name: "host", Version: "1.0.0"},
		SessionID:       "abc",
	}

	var result InitializeResult
	require.NoError(t, UnmarshalPayload(payload, &result))
	assert.Equal(t, "abc", result.SessionID)
	assert.Equal(t, "host", result.ServerInfo.Name)
}

func TestUnmarshalPayloadRejectsEmpty(t *testing.T) {
	var target CallToolParams
	assert.Error(t, UnmarshalPayload(nil, &target))
	assert.Error(t, UnmarshalPayload(json.RawMessage(`null`), &target))
	assert.Error(t, UnmarshalPayload(json.RawMessage(``), &target))
}

func TestCallToolResultContentDecoding(t *testing.T) {
	raw := []byte(`{"content":[{"type":"text","text":"232"}],"isError":false}`)

	var result CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(TextContent)
	require.True(t, ok)
	assert.Equal(t, "232", text.Text)
	assert.False(t, result.IsError)
}

func TestCallToolResultUnknownContentType(t *testing.T) {
	raw := []byte(`{"content":[{"type":"image","data":"..."}]}`)
	var result CallToolResult
	assert.Error(t, json.Unmarshal(raw, &result))
}

func TestMCPErrorFormatting(t *testing.T) {
	err := NewError(CodeInvalidParams, "parameter %q must be a number", "a")
	assert.Equal(t, CodeInvalidParams, err.Code)
	assert.Contains(t, err.Error(), `"a"`)
}
