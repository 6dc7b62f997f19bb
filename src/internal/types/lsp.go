package types

import (
	"context"

	"go.lsp.dev/protocol"
)

// LSP lifecycle methods
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
)

// LSP document synchronization methods
const (
	MethodTextDocumentDidOpen   = "textDocument/didOpen"
	MethodTextDocumentDidChange = "textDocument/didChange"
	MethodTextDocumentDidClose  = "textDocument/didClose"
	MethodTextDocumentDidSave   = "textDocument/didSave"
)

// LSP language feature methods
const (
	MethodTextDocumentCompletion = "textDocument/completion"
	MethodTextDocumentHover      = "textDocument/hover"
)

// LSP workspace and server-push methods
const (
	MethodWorkspaceDidChangeConfiguration = "workspace/didChangeConfiguration"
	MethodTextDocumentPublishDiagnostics  = "textDocument/publishDiagnostics"
	MethodCancelRequest                   = "$/cancelRequest"
)

// ClientConfig describes how to spawn and address one language server.
// Immutable once resolved.
type ClientConfig struct {
	Language              string
	Command               string
	Args                  []string
	RootURI               string
	InitializationOptions map[string]interface{}
}

// DiagnosticsHandler receives normalized diagnostics pushed by a server.
type DiagnosticsHandler func(uri protocol.DocumentURI, diagnostics []protocol.Diagnostic)

// LSPClient is the typed operation surface of one language server client.
// A client wraps exactly one child process for one language.
type LSPClient interface {
	// Initialize performs the LSP handshake. Idempotent once ready; a no-op
	// returning a not-ready error once the client is closed.
	Initialize(ctx context.Context, rootURI string) error

	// Document lifecycle notifications, fire-and-forget on the wire.
	DidOpen(ctx context.Context, uri, languageID string, version int32, text string) error
	DidChange(ctx context.Context, uri string, version int32, text string) error
	DidClose(ctx context.Context, uri string) error
	DidSave(ctx context.Context, uri, text string) error

	// DidChangeConfiguration pushes workspace settings to the server.
	DidChangeConfiguration(ctx context.Context, settings interface{}) error

	// Completion and Hover are request/response operations. On timeout both
	// return an empty result rather than an error.
	Completion(ctx context.Context, uri string, pos protocol.Position) (*protocol.CompletionList, error)
	Hover(ctx context.Context, uri string, pos protocol.Position) (*protocol.Hover, error)

	// Shutdown sends the shutdown request followed by the exit notification.
	Shutdown(ctx context.Context) error

	// Stop force-terminates the child process. Idempotent.
	Stop() error

	// IsReady reports whether the handshake completed and the wire is up.
	IsReady() bool

	// OnDiagnostics registers a handler for publishDiagnostics pushes.
	// All registered handlers receive every push.
	OnDiagnostics(handler DiagnosticsHandler)
}
