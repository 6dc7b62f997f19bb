package constants

import "time"

// Timeout constants for LSP requests
const (
	DefaultRequestTimeout = 10 * time.Second
	InitializeTimeout     = 15 * time.Second
	CompletionTimeout     = 5 * time.Second
	HoverTimeout          = 5 * time.Second
	ShutdownTimeout       = 3 * time.Second
)

// Process lifecycle constants
const (
	ProcessShutdownTimeout = 5 * time.Second
)

// ChangeDebounceInterval is the quiet period after the last edit before a
// didChange notification is sent for a document.
const ChangeDebounceInterval = 200 * time.Millisecond

// ReadBufferSize is the stdout read chunk size. Large enough that typical
// diagnostics pushes arrive in one or two chunks.
const ReadBufferSize = 64 * 1024

// GetRequestTimeout returns the timeout for an LSP request by method name.
func GetRequestTimeout(method string) time.Duration {
	switch method {
	case "initialize":
		return InitializeTimeout
	case "textDocument/completion":
		return CompletionTimeout
	case "textDocument/hover":
		return HoverTimeout
	case "shutdown":
		return ShutdownTimeout
	default:
		return DefaultRequestTimeout
	}
}
