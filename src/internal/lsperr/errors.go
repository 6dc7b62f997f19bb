// Package lsperr defines the error taxonomy for the LSP runtime.
//
// Transport errors force a client closed, protocol errors fail a single
// request, timeout errors fail a single request and leave the client alive.
// Nothing in this package is ever fatal to the hosting application.
package lsperr

import (
	"errors"
	"fmt"
)

// TimeoutError indicates a request did not receive a response in time.
type TimeoutError struct {
	Language string
	Method   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timeout for %s", e.Language, e.Method)
}

// NewTimeoutError creates a TimeoutError for the given language and method.
func NewTimeoutError(language, method string) *TimeoutError {
	return &TimeoutError{Language: language, Method: method}
}

// IsTimeoutError checks if an error is a request timeout.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ProcessError indicates a child process failed to spawn, exited
// unexpectedly, or could not be stopped.
type ProcessError struct {
	Language string
	Command  string
	Op       string // "spawn", "stop", "exit"
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s server process %s failed (%s): %v", e.Language, e.Op, e.Command, e.Err)
	}
	return fmt.Sprintf("%s server process %s failed (%s)", e.Language, e.Op, e.Command)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// NewProcessError creates a ProcessError wrapping the underlying cause.
func NewProcessError(language, command, op string, err error) *ProcessError {
	return &ProcessError{Language: language, Command: command, Op: op, Err: err}
}

// IsProcessError checks if an error is a process lifecycle failure.
func IsProcessError(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe)
}

// ConnectionError indicates the wire to the child process is broken:
// write failure, stdout EOF, or the client transitioned to closed.
type ConnectionError struct {
	Language string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s server connection lost: %v", e.Language, e.Err)
	}
	return fmt.Sprintf("%s server connection closed", e.Language)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError creates a ConnectionError for the given language.
func NewConnectionError(language string, err error) *ConnectionError {
	return &ConnectionError{Language: language, Err: err}
}

// IsConnectionError checks if an error is a broken-wire failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ProtocolError carries a JSON-RPC error object returned by the server.
// Only the specific pending request fails; the client stays alive.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// NewProtocolError creates a ProtocolError from a JSON-RPC error object.
func NewProtocolError(code int, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// IsProtocolError checks if an error is a server-returned JSON-RPC error.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
