// Package server implements the per-language LSP client and the registry
// that owns at most one client per language. A client wraps one child
// process: it allocates request ids, correlates responses, serializes
// writes, and fans incoming diagnostics out to registered handlers.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"

	"lspsync/src/internal/common"
	"lspsync/src/internal/constants"
	"lspsync/src/internal/lsperr"
	"lspsync/src/internal/types"
	rpc "lspsync/src/server/protocol"
	"lspsync/src/server/process"
)

type clientState int

const (
	stateUninitialized clientState = iota
	stateInitializing
	stateReady
	stateClosed
)

// pendingRequest correlates one in-flight request with its response.
type pendingRequest struct {
	method string
	respCh chan *rpc.Message
}

type writeItem struct {
	framed []byte
	errCh  chan error
}

// StdioClient speaks LSP to one language server process over stdio.
type StdioClient struct {
	config   types.ClientConfig
	language string
	handle   *process.Handle

	mu           sync.Mutex
	state        clientState
	nextID       int64
	pending      map[int64]*pendingRequest
	diagHandlers []types.DiagnosticsHandler

	initMu sync.Mutex

	writeCh   chan writeItem
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewStdioClient creates a client for the given server configuration.
// The child process is not spawned until Start.
func NewStdioClient(config types.ClientConfig) *StdioClient {
	return &StdioClient{
		config:   config,
		language: config.Language,
		pending:  make(map[int64]*pendingRequest),
		writeCh:  make(chan writeItem, 64),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the language server process and begins the read and write
// loops. It does not perform the LSP handshake; see Initialize.
func (c *StdioClient) Start() error {
	handle, err := process.Spawn(c.language, c.config.Command, c.config.Args, "")
	if err != nil {
		return err
	}
	c.handle = handle

	go c.readLoop()
	go c.writeLoop()
	go c.logStderr()
	go func() {
		<-handle.Exited()
		c.markClosed(handle.ExitErr())
	}()

	return nil
}

// Done is closed when the client transitions to closed.
func (c *StdioClient) Done() <-chan struct{} {
	return c.stopCh
}

// IsReady reports whether the handshake completed and the wire is up.
func (c *StdioClient) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady
}

// PID returns the child process id, 0 before Start.
func (c *StdioClient) PID() int {
	if c.handle == nil {
		return 0
	}
	return c.handle.PID()
}

// OnDiagnostics registers a handler for publishDiagnostics pushes.
func (c *StdioClient) OnDiagnostics(handler types.DiagnosticsHandler) {
	c.mu.Lock()
	c.diagHandlers = append(c.diagHandlers, handler)
	c.mu.Unlock()
}

// markClosed transitions the client to the terminal closed state: all
// pending requests are rejected, the process is force-killed, and the
// write loop drains.
func (c *StdioClient) markClosed(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.pending = make(map[int64]*pendingRequest)
		c.mu.Unlock()

		close(c.stopCh)
		if c.handle != nil {
			c.handle.Kill()
		}

		if cause != nil && !isExpectedExit(cause) {
			common.LSPLogger.Warn("%s client closed: %v", c.language, cause)
		}
	})
}

func isExpectedExit(err error) bool {
	s := err.Error()
	return strings.Contains(s, "signal: killed") ||
		strings.Contains(s, "process already finished") ||
		err == io.EOF
}

// request sends a JSON-RPC request and waits for the matching response,
// subject to the per-method timeout.
func (c *StdioClient) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil, lsperr.NewConnectionError(c.language, nil)
	}
	c.nextID++
	id := c.nextID
	pr := &pendingRequest{method: method, respCh: make(chan *rpc.Message, 1)}
	c.pending[id] = pr
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	framed, err := rpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.enqueueWrite(framed); err != nil {
		return nil, err
	}

	timeout := constants.GetRequestTimeout(method)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pr.respCh:
		if resp.Error != nil {
			return nil, lsperr.NewProtocolError(resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		// Best effort: let the server abandon the work.
		if framed, err := rpc.NewNotification(types.MethodCancelRequest, map[string]interface{}{"id": id}); err == nil {
			_ = c.enqueueWrite(framed)
		}
		common.LSPLogger.Warn("%s request timed out: method=%s id=%d timeout=%v", c.language, method, id, timeout)
		return nil, lsperr.NewTimeoutError(c.language, method)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, lsperr.NewConnectionError(c.language, nil)
	}
}

// notify sends a fire-and-forget JSON-RPC notification.
func (c *StdioClient) notify(method string, params interface{}) error {
	c.mu.Lock()
	closed := c.state == stateClosed
	c.mu.Unlock()
	if closed {
		return lsperr.NewConnectionError(c.language, nil)
	}

	framed, err := rpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.enqueueWrite(framed)
}

// enqueueWrite hands a framed message to the writer goroutine and waits for
// the write to complete. Enqueue order is wire order.
func (c *StdioClient) enqueueWrite(framed []byte) error {
	errCh := make(chan error, 1)
	select {
	case c.writeCh <- writeItem{framed: framed, errCh: errCh}:
	case <-c.stopCh:
		return lsperr.NewConnectionError(c.language, nil)
	}
	select {
	case err := <-errCh:
		return err
	case <-c.stopCh:
		return lsperr.NewConnectionError(c.language, nil)
	}
}

// writeLoop serializes all outgoing writes through one goroutine so wire
// ordering matches enqueue ordering even under concurrent callers.
func (c *StdioClient) writeLoop() {
	for {
		select {
		case item := <-c.writeCh:
			err := rpc.WriteMessage(c.handle.Stdin, item.framed)
			item.errCh <- err
			if err != nil {
				c.markClosed(lsperr.NewConnectionError(c.language, err))
				return
			}
		case <-c.stopCh:
			// Fail any writers that raced the close.
			for {
				select {
				case item := <-c.writeCh:
					item.errCh <- lsperr.NewConnectionError(c.language, nil)
				default:
					return
				}
			}
		}
	}
}

// readLoop feeds stdout bytes through the stream decoder and dispatches
// each complete message. EOF or a read error closes the client.
func (c *StdioClient) readLoop() {
	dec := rpc.NewStreamDecoder(c.language)
	buf := make([]byte, constants.ReadBufferSize)
	for {
		n, err := c.handle.Stdout.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, ok := dec.Next()
				if !ok {
					break
				}
				c.dispatch(msg)
			}
		}
		if err != nil {
			if err != io.EOF {
				common.LSPLogger.Debug("%s stdout read error: %v", c.language, err)
			}
			c.markClosed(lsperr.NewConnectionError(c.language, err))
			return
		}
	}
}

// dispatch routes one incoming message by classification.
func (c *StdioClient) dispatch(msg *rpc.Message) {
	switch msg.Classify() {
	case rpc.KindResponse:
		c.deliverResponse(msg)
	case rpc.KindRequest:
		c.handleServerRequest(msg)
	case rpc.KindNotification:
		c.handleServerNotification(msg)
	default:
		common.LSPLogger.Warn("Malformed message from %s server: no id and no method", c.language)
	}
}

// deliverResponse hands a response to its pending request. A response with
// an unknown id is a logged no-op.
func (c *StdioClient) deliverResponse(msg *rpc.Message) {
	id, ok := numericID(msg.ID)
	if !ok {
		common.LSPLogger.Warn("Response from %s server with non-numeric id %v", c.language, msg.ID)
		return
	}

	c.mu.Lock()
	pr, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !exists {
		common.LSPLogger.Debug("No matching request for %s response id=%d (late or unknown)", c.language, id)
		return
	}
	pr.respCh <- msg
}

// handleServerRequest answers server-initiated requests. Only
// workspace/configuration is implemented; everything else receives a
// -32601 error response.
func (c *StdioClient) handleServerRequest(msg *rpc.Message) {
	var framed []byte
	var err error
	if msg.Method == "workspace/configuration" {
		framed, err = rpc.NewResponse(msg.ID, []interface{}{map[string]interface{}{}}, nil)
	} else {
		common.LSPLogger.Debug("Unhandled %s server request: %s", c.language, msg.Method)
		framed, err = rpc.NewMethodNotFoundResponse(msg.ID, msg.Method)
	}
	if err != nil {
		return
	}
	if err := c.enqueueWrite(framed); err != nil {
		common.LSPLogger.Debug("Failed to answer %s server request %s: %v", c.language, msg.Method, err)
	}
}

// handleServerNotification routes publishDiagnostics to registered
// handlers; other notifications are quietly ignored.
func (c *StdioClient) handleServerNotification(msg *rpc.Message) {
	if msg.Method != types.MethodTextDocumentPublishDiagnostics {
		return
	}

	uri, diags, err := NormalizeDiagnostics(msg.Params)
	if err != nil {
		common.LSPLogger.Warn("Dropping malformed diagnostics push from %s: %v", c.language, err)
		return
	}

	c.mu.Lock()
	handlers := append([]types.DiagnosticsHandler(nil), c.diagHandlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(uri, diags)
	}
}

// numericID coerces a decoded JSON-RPC id into int64. JSON numbers arrive
// as float64.
func numericID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// logStderr drains the server's stderr so the pipe never fills, logging
// error-looking lines at warn level.
func (c *StdioClient) logStderr() {
	scanner := bufio.NewScanner(c.handle.Stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "fatal") || strings.Contains(lower, "panic") {
			common.LSPLogger.Warn("%s server stderr: %s", c.language, line)
		} else {
			common.LSPLogger.Debug("%s server stderr: %s", c.language, line)
		}
	}
}

// Initialize performs the LSP handshake: the initialize request followed by
// the initialized notification. Idempotent once ready; calling it on a
// closed client reports not-ready without touching the wire.
func (c *StdioClient) Initialize(ctx context.Context, rootURI string) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case stateReady:
		c.mu.Unlock()
		return nil
	case stateClosed:
		c.mu.Unlock()
		return lsperr.NewConnectionError(c.language, nil)
	}
	c.state = stateInitializing
	c.mu.Unlock()

	result, err := c.request(ctx, types.MethodInitialize, c.initializeParams(rootURI))
	if err != nil {
		c.mu.Lock()
		if c.state == stateInitializing {
			c.state = stateUninitialized
		}
		c.mu.Unlock()
		return fmt.Errorf("initialize %s server: %w", c.language, err)
	}
	common.LSPLogger.Debug("%s server initialized, capabilities: %d bytes", c.language, len(result))

	if err := c.notify(types.MethodInitialized, map[string]interface{}{}); err != nil {
		return fmt.Errorf("initialized notification for %s server: %w", c.language, err)
	}

	c.mu.Lock()
	if c.state == stateInitializing {
		c.state = stateReady
	}
	c.mu.Unlock()
	return nil
}

func (c *StdioClient) initializeParams(rootURI string) map[string]interface{} {
	return map[string]interface{}{
		"processId": os.Getpid(),
		"clientInfo": map[string]interface{}{
			"name":    "lspsync",
			"version": "1.0.0",
		},
		"rootUri":               rootURI,
		"initializationOptions": c.config.InitializationOptions,
		"capabilities": map[string]interface{}{
			"workspace": map[string]interface{}{
				"didChangeConfiguration": map[string]interface{}{"dynamicRegistration": false},
			},
			"textDocument": map[string]interface{}{
				"publishDiagnostics": map[string]interface{}{
					"relatedInformation": true,
					"versionSupport":     false,
				},
				"synchronization": map[string]interface{}{
					"dynamicRegistration": false,
					"didSave":             true,
				},
				"completion": map[string]interface{}{
					"completionItem": map[string]interface{}{
						"snippetSupport":      false,
						"documentationFormat": []string{"markdown", "plaintext"},
					},
				},
				"hover": map[string]interface{}{
					"contentFormat": []string{"markdown", "plaintext"},
				},
			},
		},
		"trace": "off",
	}
}

// DidOpen announces a newly opened document with its full text.
func (c *StdioClient) DidOpen(ctx context.Context, uri, languageID string, version int32, text string) error {
	return c.notify(types.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(uri),
			LanguageID: protocol.LanguageIdentifier(languageID),
			Version:    version,
			Text:       text,
		},
	})
}

// DidChange sends a full-content change at the given version.
func (c *StdioClient) DidChange(ctx context.Context, uri string, version int32, text string) error {
	return c.notify(types.MethodTextDocumentDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
	})
}

// DidClose announces a closed document.
func (c *StdioClient) DidClose(ctx context.Context, uri string) error {
	return c.notify(types.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
	})
}

// DidSave announces a saved document with its saved text.
func (c *StdioClient) DidSave(ctx context.Context, uri, text string) error {
	return c.notify(types.MethodTextDocumentDidSave, protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
		Text:         text,
	})
}

// DidChangeConfiguration pushes workspace settings to the server.
func (c *StdioClient) DidChangeConfiguration(ctx context.Context, settings interface{}) error {
	return c.notify(types.MethodWorkspaceDidChangeConfiguration, map[string]interface{}{
		"settings": settings,
	})
}

// Completion requests completion items at a position. A timeout yields an
// empty list rather than an error, indistinguishable from no results.
func (c *StdioClient) Completion(ctx context.Context, uri string, pos protocol.Position) (*protocol.CompletionList, error) {
	result, err := c.request(ctx, types.MethodTextDocumentCompletion, protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
			Position:     pos,
		},
	})
	if err != nil {
		if lsperr.IsTimeoutError(err) {
			return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
		}
		return nil, err
	}
	return parseCompletionResult(result)
}

// parseCompletionResult accepts the three shapes servers return: a
// CompletionList, a bare item array, or null.
func parseCompletionResult(result json.RawMessage) (*protocol.CompletionList, error) {
	if len(result) == 0 || string(result) == "null" {
		return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
	}
	var list protocol.CompletionList
	if err := json.Unmarshal(result, &list); err == nil {
		if list.Items == nil {
			list.Items = []protocol.CompletionItem{}
		}
		return &list, nil
	}
	var items []protocol.CompletionItem
	if err := json.Unmarshal(result, &items); err == nil {
		return &protocol.CompletionList{Items: items}, nil
	}
	return nil, fmt.Errorf("unexpected completion result shape: %s", truncate(result, 120))
}

// Hover requests hover information at a position. A timeout yields a nil
// hover rather than an error.
func (c *StdioClient) Hover(ctx context.Context, uri string, pos protocol.Position) (*protocol.Hover, error) {
	result, err := c.request(ctx, types.MethodTextDocumentHover, protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
			Position:     pos,
		},
	})
	if err != nil {
		if lsperr.IsTimeoutError(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var hover protocol.Hover
	if err := json.Unmarshal(result, &hover); err != nil {
		return nil, fmt.Errorf("unexpected hover result shape: %s", truncate(result, 120))
	}
	return &hover, nil
}

// Shutdown sends the shutdown request followed by the exit notification.
func (c *StdioClient) Shutdown(ctx context.Context) error {
	if _, err := c.request(ctx, types.MethodShutdown, nil); err != nil {
		return err
	}
	return c.notify(types.MethodExit, nil)
}

// SendShutdownRequest implements process.ShutdownSender.
func (c *StdioClient) SendShutdownRequest(ctx context.Context) error {
	_, err := c.request(ctx, types.MethodShutdown, nil)
	return err
}

// SendExitNotification implements process.ShutdownSender.
func (c *StdioClient) SendExitNotification(ctx context.Context) error {
	return c.notify(types.MethodExit, nil)
}

// Stop terminates the client: graceful shutdown sequence first, force kill
// when the process lingers. Idempotent.
func (c *StdioClient) Stop() error {
	if c.handle == nil {
		c.markClosed(nil)
		return nil
	}
	err := c.handle.StopGracefully(c)
	c.markClosed(nil)
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
