package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func drain(d *StreamDecoder) []*Message {
	var msgs []*Message
	for {
		msg, ok := d.Next()
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func TestDecoderSingleMessage(t *testing.T) {
	d := NewStreamDecoder("go")
	d.Feed([]byte(frame(`{"jsonrpc":"2.0","id":1,"result":{}}`)))

	msgs := drain(d)
	require.Len(t, msgs, 1)
	assert.Equal(t, KindResponse, msgs[0].Classify())
	assert.Equal(t, float64(1), msgs[0].ID)
}

func TestDecoderChunkingInvariance(t *testing.T) {
	stream := frame(`{"jsonrpc":"2.0","id":1,"result":{"a":1}}`) +
		frame(`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{}}`) +
		frame(`{"jsonrpc":"2.0","id":2,"method":"workspace/configuration","params":[]}`)

	whole := NewStreamDecoder("go")
	whole.Feed([]byte(stream))
	want := drain(whole)
	require.Len(t, want, 3)

	// Every possible two-way split, including splits inside headers and
	// bodies, must yield the identical message sequence.
	for cut := 0; cut <= len(stream); cut++ {
		d := NewStreamDecoder("go")
		d.Feed([]byte(stream[:cut]))
		got := drain(d)
		d.Feed([]byte(stream[cut:]))
		got = append(got, drain(d)...)

		require.Len(t, got, len(want), "split at %d", cut)
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID, "split at %d", cut)
			assert.Equal(t, want[i].Method, got[i].Method, "split at %d", cut)
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	stream := frame(`{"jsonrpc":"2.0","id":42,"result":null}`)

	d := NewStreamDecoder("go")
	var msgs []*Message
	for i := 0; i < len(stream); i++ {
		d.Feed([]byte{stream[i]})
		msgs = append(msgs, drain(d)...)
	}
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(42), msgs[0].ID)
}

func TestDecoderMalformedHeaderRecovery(t *testing.T) {
	stream := "X-Garbage: yes\r\n\r\n" + frame(`{"jsonrpc":"2.0","id":5,"result":{}}`)

	d := NewStreamDecoder("go")
	d.Feed([]byte(stream))

	msgs := drain(d)
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(5), msgs[0].ID)
}

func TestDecoderBadContentLengthRecovery(t *testing.T) {
	stream := "Content-Length: banana\r\n\r\n" + frame(`{"jsonrpc":"2.0","method":"exit"}`)

	d := NewStreamDecoder("go")
	d.Feed([]byte(stream))

	msgs := drain(d)
	require.Len(t, msgs, 1)
	assert.Equal(t, "exit", msgs[0].Method)
}

func TestDecoderDropsUnparseableBody(t *testing.T) {
	stream := frame(`{not json`) + frame(`{"jsonrpc":"2.0","id":8,"result":{}}`)

	d := NewStreamDecoder("go")
	d.Feed([]byte(stream))

	msgs := drain(d)
	require.Len(t, msgs, 1)
	assert.Equal(t, float64(8), msgs[0].ID)
}

func TestDecoderCaseInsensitiveHeader(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"initialized"}`
	stream := fmt.Sprintf("content-length: %d\r\nContent-Type: application/vscode-jsonrpc\r\n\r\n%s", len(body), body)

	d := NewStreamDecoder("go")
	d.Feed([]byte(stream))

	msgs := drain(d)
	require.Len(t, msgs, 1)
	assert.Equal(t, "initialized", msgs[0].Method)
}

func TestDecoderIncompleteBodyWaits(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":{}}`
	stream := frame(body)

	d := NewStreamDecoder("go")
	d.Feed([]byte(stream[:len(stream)-4]))
	_, ok := d.Next()
	assert.False(t, ok)

	d.Feed([]byte(stream[len(stream)-4:]))
	msgs := drain(d)
	require.Len(t, msgs, 1)
}
