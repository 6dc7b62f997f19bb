package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFramed(t *testing.T, framed []byte) *Message {
	t.Helper()

	idx := bytes.Index(framed, headerTerminator)
	require.NotEqual(t, -1, idx, "framed message must carry a header block")

	header := framed[:idx]
	body := framed[idx+len(headerTerminator):]
	require.Equal(t, []byte(fmt.Sprintf("Content-Length: %d", len(body))), header)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	return &msg
}

func TestNewRequestFraming(t *testing.T) {
	framed, err := NewRequest(7, "textDocument/hover", map[string]interface{}{"x": 1})
	require.NoError(t, err)

	msg := decodeFramed(t, framed)
	assert.Equal(t, Version, msg.JSONRPC)
	assert.Equal(t, float64(7), msg.ID)
	assert.Equal(t, "textDocument/hover", msg.Method)
	assert.JSONEq(t, `{"x":1}`, string(msg.Params))
}

func TestNewNotificationHasNoID(t *testing.T) {
	framed, err := NewNotification("initialized", map[string]interface{}{})
	require.NoError(t, err)

	msg := decodeFramed(t, framed)
	assert.Nil(t, msg.ID)
	assert.Equal(t, "initialized", msg.Method)
}

func TestNewResponseCarriesResult(t *testing.T) {
	framed, err := NewResponse(float64(3), []interface{}{nil}, nil)
	require.NoError(t, err)

	msg := decodeFramed(t, framed)
	assert.Equal(t, float64(3), msg.ID)
	assert.JSONEq(t, `[null]`, string(msg.Result))
	assert.Nil(t, msg.Error)
}

func TestNewMethodNotFoundResponse(t *testing.T) {
	framed, err := NewMethodNotFoundResponse(float64(9), "client/custom")
	require.NoError(t, err)

	msg := decodeFramed(t, framed)
	require.NotNil(t, msg.Error)
	assert.Equal(t, MethodNotFound, msg.Error.Code)
	assert.Contains(t, msg.Error.Message, "client/custom")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want MessageKind
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"exit"}`, KindNotification},
		{"result response", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"x"}}`, KindResponse},
		{"null result response", `{"jsonrpc":"2.0","id":1,"result":null}`, KindResponse},
		{"id without payload", `{"jsonrpc":"2.0","id":1}`, KindInvalid},
		{"empty", `{"jsonrpc":"2.0"}`, KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))
			assert.Equal(t, tt.want, msg.Classify())
		})
	}
}

func TestWriteMessageSingleWrite(t *testing.T) {
	framed, err := NewNotification("exit", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, framed))
	assert.Equal(t, framed, buf.Bytes())
}
