package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSON-RPC protocol version
const Version = "2.0"

// JSON-RPC error codes
const (
	ParseError     = -32700 // Invalid JSON was received
	InvalidRequest = -32600 // Not a valid Request object
	MethodNotFound = -32601 // Method does not exist / is not implemented
	InvalidParams  = -32602 // Invalid method parameter(s)
	InternalError  = -32603 // Internal JSON-RPC error
)

// Message is a JSON-RPC 2.0 message as it appears on the wire. Params and
// Result stay raw until a consumer validates them into typed values.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error object of a JSON-RPC response.
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// MessageKind is the classification of an incoming message.
type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Classify determines the message kind. A message with both an id and a
// result or error field is a response; a message with a method is a request
// (id present) or notification (id absent); anything else is invalid.
func (m *Message) Classify() MessageKind {
	if m.Method != "" {
		if m.ID != nil {
			return KindRequest
		}
		return KindNotification
	}
	if m.ID != nil && (m.Result != nil || m.Error != nil) {
		return KindResponse
	}
	return KindInvalid
}

// outgoing mirrors Message with untyped params for encoding.
type outgoing struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      interface{}    `json:"id,omitempty"`
	Method  string         `json:"method,omitempty"`
	Params  interface{}    `json:"params,omitempty"`
	Result  interface{}    `json:"result,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

// NewRequest builds a request message with the given numeric id.
func NewRequest(id int64, method string, params interface{}) ([]byte, error) {
	return encode(outgoing{JSONRPC: Version, ID: id, Method: method, Params: params})
}

// NewNotification builds a notification message (no id).
func NewNotification(method string, params interface{}) ([]byte, error) {
	return encode(outgoing{JSONRPC: Version, Method: method, Params: params})
}

// NewResponse builds a response to a server-initiated request, echoing its
// id. Result must be non-nil when err is nil; pass json.RawMessage("null")
// for an explicit null result.
func NewResponse(id interface{}, result interface{}, err *ResponseError) ([]byte, error) {
	return encode(outgoing{JSONRPC: Version, ID: id, Result: result, Error: err})
}

// NewMethodNotFoundResponse builds the -32601 reply sent for
// server-initiated requests this client does not implement.
func NewMethodNotFoundResponse(id interface{}, method string) ([]byte, error) {
	return NewResponse(id, nil, &ResponseError{
		Code:    MethodNotFound,
		Message: fmt.Sprintf("method not implemented: %s", method),
	})
}

// encode serializes a message with its Content-Length header prefix.
func encode(msg outgoing) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	framed := make([]byte, 0, len(body)+32)
	framed = append(framed, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))...)
	framed = append(framed, body...)
	return framed, nil
}

// WriteMessage frames and writes a pre-encoded message in a single Write
// call so concurrent writers cannot interleave header and body.
func WriteMessage(w io.Writer, framed []byte) error {
	_, err := w.Write(framed)
	return err
}
