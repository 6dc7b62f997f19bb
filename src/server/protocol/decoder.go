package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"lspsync/src/internal/common"
)

var headerTerminator = []byte("\r\n\r\n")

// StreamDecoder reassembles discrete JSON-RPC messages from a byte stream
// delivered in arbitrary-sized chunks. Feeding the same stream in N pieces
// or in one piece yields the same ordered sequence of messages.
//
// A header block without a parseable Content-Length is discarded and
// scanning continues; a body that fails JSON parsing is logged and dropped.
// Neither poisons subsequent messages.
type StreamDecoder struct {
	language string
	buf      []byte
}

// NewStreamDecoder creates a decoder. The language tag is used only for
// logging context.
func NewStreamDecoder(language string) *StreamDecoder {
	return &StreamDecoder{language: language}
}

// Feed appends a chunk of raw bytes to the decode buffer.
func (d *StreamDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next extracts the next complete message from the buffer. It returns
// ok=false when no complete message is buffered yet; malformed headers and
// unparseable bodies are consumed internally and never surface.
func (d *StreamDecoder) Next() (*Message, bool) {
	for {
		end := bytes.Index(d.buf, headerTerminator)
		if end < 0 {
			return nil, false
		}

		length, hdrErr := parseContentLength(d.buf[:end])
		if hdrErr != nil {
			common.LSPLogger.Warn("Discarding malformed header block from %s: %v", d.language, hdrErr)
			d.buf = d.buf[end+len(headerTerminator):]
			continue
		}

		bodyStart := end + len(headerTerminator)
		if len(d.buf) < bodyStart+length {
			return nil, false
		}

		body := d.buf[bodyStart : bodyStart+length]
		rest := d.buf[bodyStart+length:]

		var msg Message
		err := json.Unmarshal(body, &msg)

		// Reslice instead of copying: the body aliases the old buffer, so a
		// fresh buffer is only needed when the message survives.
		d.buf = append([]byte(nil), rest...)

		if err != nil {
			common.LSPLogger.Error("Dropping unparseable message from %s: %v", d.language, err)
			continue
		}
		return &msg, true
	}
}

// parseContentLength scans an ASCII header block for a case-insensitive
// Content-Length header and returns the declared body length.
func parseContentLength(block []byte) (int, error) {
	for _, line := range strings.Split(string(block), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, errBadContentLength
		}
		return n, nil
	}
	return 0, errNoContentLength
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

const (
	errNoContentLength  = decodeError("no Content-Length header")
	errBadContentLength = decodeError("unparseable Content-Length value")
)
