package syncer

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"lspsync/src/config"
	"lspsync/src/editor"
	"lspsync/src/internal/lsptest"
	"lspsync/src/internal/types"
)

// newTestSyncer wires a synchronizer to a fresh store with every language
// pointed at the mock server binary.
func newTestSyncer(t *testing.T) (*editor.MemoryStore, *Synchronizer, string) {
	t.Helper()

	bin := lsptest.BuildServer(t)
	logPath := filepath.Join(t.TempDir(), "wire.log")
	t.Setenv(lsptest.EnvLogFile, logPath)

	settings := &config.Settings{LSPServers: map[string]*config.ServerConfig{
		"go":         {Command: bin},
		"python":     {Command: bin},
		"typescript": {Command: bin},
		"zig":        {Command: bin},
	}}

	store := editor.NewMemoryStore("/ws")
	s := New(store, settings)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return store, s, logPath
}

func openParams(t *testing.T, msg lsptest.Message) protocol.DidOpenTextDocumentParams {
	t.Helper()
	var params protocol.DidOpenTextDocumentParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	return params
}

func TestSyncerOpensEligibleBuffer(t *testing.T) {
	store, _, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{
		ID:       "b1",
		FilePath: "/ws/main.go",
		Language: "go",
		Content:  "package main\n",
	})

	opens := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)
	params := openParams(t, opens[0])
	assert.Equal(t, protocol.DocumentURI("file:///ws/main.go"), params.TextDocument.URI)
	assert.Equal(t, protocol.LanguageIdentifier("go"), params.TextDocument.LanguageID)
	assert.Equal(t, int32(1), params.TextDocument.Version)
	assert.Equal(t, "package main\n", params.TextDocument.Text)
}

func TestSyncerIgnoresIneligibleBuffers(t *testing.T) {
	store, s, logPath := newTestSyncer(t)

	// No file path.
	store.UpdateBuffer(editor.BufferState{ID: "scratch", Language: "go", Content: "x"})
	// No server for the language.
	store.UpdateBuffer(editor.BufferState{ID: "notes", FilePath: "/ws/notes.txt", Language: "plaintext", Content: "y"})

	lsptest.WaitForNoMore(t, logPath, types.MethodTextDocumentDidOpen, 0, 300*time.Millisecond)
	assert.Empty(t, s.Registry().Languages(), "no server should have been started")
}

func TestSyncerDebouncesChanges(t *testing.T) {
	store, _, logPath := newTestSyncer(t)

	buf := editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "v0"}
	store.UpdateBuffer(buf)
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	for _, content := range []string{"v1", "v2", "v3"} {
		buf.Content = content
		store.UpdateBuffer(buf)
		time.Sleep(20 * time.Millisecond)
	}

	changes := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidChange, 1, 2*time.Second)
	var params protocol.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal(changes[0].Params, &params))
	assert.Equal(t, int32(2), params.TextDocument.Version)
	require.Len(t, params.ContentChanges, 1)
	assert.Equal(t, "v3", params.ContentChanges[0].Text)

	// The three edits coalesced into exactly one notification.
	lsptest.WaitForNoMore(t, logPath, types.MethodTextDocumentDidChange, 1, 400*time.Millisecond)
}

func TestSyncerSendsDidSaveOnDirtyToClean(t *testing.T) {
	store, _, logPath := newTestSyncer(t)

	buf := editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "package main\n", Dirty: true}
	store.UpdateBuffer(buf)
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	buf.Dirty = false
	store.UpdateBuffer(buf)

	saves := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidSave, 1, 2*time.Second)
	var params protocol.DidSaveTextDocumentParams
	require.NoError(t, json.Unmarshal(saves[0].Params, &params))
	assert.Equal(t, protocol.DocumentURI("file:///ws/main.go"), params.TextDocument.URI)
	assert.Equal(t, "package main\n", params.Text)

	// Content did not change, so no didChange accompanies the save.
	lsptest.WaitForNoMore(t, logPath, types.MethodTextDocumentDidChange, 0, 400*time.Millisecond)
}

func TestSyncerClosesRemovedBuffer(t *testing.T) {
	t.Setenv(lsptest.EnvPublishDiagnostics, "1")
	store, _, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	require.Eventually(t, func() bool {
		return len(store.GetState().Diagnostics["b1"]) == 1
	}, 2*time.Second, 10*time.Millisecond, "diagnostics should arrive for the open buffer")

	store.RemoveBuffer("b1")

	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidClose, 1, 2*time.Second)
	lsptest.WaitForNoMore(t, logPath, types.MethodTextDocumentDidClose, 1, 300*time.Millisecond)

	assert.Empty(t, store.GetState().Diagnostics["b1"], "closing a buffer clears its diagnostics")
}

func TestSyncerFansDiagnosticsOutToSharedURI(t *testing.T) {
	t.Setenv(lsptest.EnvPublishDiagnostics, "1")
	store, _, logPath := newTestSyncer(t)

	// Two buffers (split views) over the same file.
	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	store.UpdateBuffer(editor.BufferState{ID: "b2", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 2, 5*time.Second)

	require.Eventually(t, func() bool {
		diags := store.GetState().Diagnostics
		return len(diags["b1"]) == 1 && len(diags["b2"]) == 1
	}, 2*time.Second, 10*time.Millisecond, "both buffers should receive the push")

	diags := store.GetState().Diagnostics
	assert.Equal(t, "mock diagnostic", diags["b1"][0].Message)
	assert.Equal(t, "mock diagnostic", diags["b2"][0].Message)
}

func TestSyncerSharesOneHandshakePerLanguage(t *testing.T) {
	store, _, logPath := newTestSyncer(t)

	// Three buffers racing to open must produce exactly one handshake.
	for _, id := range []string{"b1", "b2", "b3"} {
		store.UpdateBuffer(editor.BufferState{ID: id, FilePath: "/ws/" + id + ".go", Language: "go", Content: "x"})
	}

	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 3, 5*time.Second)
	lsptest.WaitForNoMore(t, logPath, types.MethodInitialize, 1, 300*time.Millisecond)
}

func TestSyncerRoutesLanguageAliases(t *testing.T) {
	store, s, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/app.js", Language: "javascript", Content: "x"})

	opens := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)
	params := openParams(t, opens[0])
	// The editor-side languageId survives even though the typescript server
	// handles the document.
	assert.Equal(t, protocol.LanguageIdentifier("javascript"), params.TextDocument.LanguageID)
	assert.Equal(t, []string{"typescript"}, s.Registry().Languages())
}

func TestSyncerWorkspaceRootChangeRestartsEverything(t *testing.T) {
	t.Setenv(lsptest.EnvPublishDiagnostics, "1")
	store, _, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	store.UpdateBuffer(editor.BufferState{ID: "b2", FilePath: "/ws/app.py", Language: "python", Content: "y"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 2, 5*time.Second)

	require.Eventually(t, func() bool {
		return len(store.GetState().Diagnostics) == 2
	}, 2*time.Second, 10*time.Millisecond)

	store.SetWorkspaceRoot("/elsewhere")

	// Every document closed, every server shut down, then everything
	// reopened against the new root.
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidClose, 2, 5*time.Second)
	lsptest.WaitForMethod(t, logPath, types.MethodShutdown, 2, 5*time.Second)
	opens := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 4, 5*time.Second)

	inits := lsptest.Received(t, logPath, types.MethodInitialize)
	require.Len(t, inits, 4)
	var lastInit map[string]interface{}
	require.NoError(t, json.Unmarshal(inits[3].Params, &lastInit))
	assert.Equal(t, "file:///elsewhere", lastInit["rootUri"])

	uris := map[protocol.DocumentURI]bool{}
	for _, open := range opens[2:] {
		uris[openParams(t, open).TextDocument.URI] = true
	}
	assert.True(t, uris["file:///ws/main.go"])
	assert.True(t, uris["file:///ws/app.py"])
}

func TestSyncerPushesOpenFiles(t *testing.T) {
	store, _, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.zig", Language: "zig", Content: "x"})

	pushes := lsptest.WaitForMethod(t, logPath, types.MethodWorkspaceDidChangeConfiguration, 1, 5*time.Second)
	var params struct {
		Settings map[string]struct {
			OpenFiles []string `json:"openFiles"`
		} `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(pushes[0].Params, &params))
	assert.Equal(t, []string{"/ws/main.zig"}, params.Settings["zig"].OpenFiles)

	store.RemoveBuffer("b1")
	pushes = lsptest.WaitForMethod(t, logPath, types.MethodWorkspaceDidChangeConfiguration, 2, 2*time.Second)
	require.NoError(t, json.Unmarshal(pushes[1].Params, &params))
	assert.Empty(t, params.Settings["zig"].OpenFiles)
}

// gatedStore blocks the first dispatch of the gated action kind until
// released, standing in for an editor whose dispatch can stall.
type gatedStore struct {
	*editor.MemoryStore
	gateClear bool // gate ClearAllDiagnostics instead of SetBufferDiagnostics
	blocked   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newGatedStore(rootPath string, gateClear bool) *gatedStore {
	return &gatedStore{
		MemoryStore: editor.NewMemoryStore(rootPath),
		gateClear:   gateClear,
		blocked:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) Dispatch(action editor.Action) {
	gated := false
	switch action.(type) {
	case editor.SetBufferDiagnostics:
		gated = !g.gateClear
	case editor.ClearAllDiagnostics:
		gated = g.gateClear
	}
	if gated {
		g.once.Do(func() {
			close(g.blocked)
			<-g.release
		})
	}
	g.MemoryStore.Dispatch(action)
}

func newGatedSyncer(t *testing.T, gateClear bool) (*gatedStore, *Synchronizer, string, *sync.Once) {
	t.Helper()

	bin := lsptest.BuildServer(t)
	logPath := filepath.Join(t.TempDir(), "wire.log")
	t.Setenv(lsptest.EnvLogFile, logPath)

	settings := &config.Settings{LSPServers: map[string]*config.ServerConfig{
		"go": {Command: bin},
	}}

	store := newGatedStore("/ws", gateClear)
	s := New(store, settings)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	released := &sync.Once{}
	t.Cleanup(func() { released.Do(func() { close(store.release) }) })
	return store, s, logPath, released
}

func TestSyncerReactsWhileDiagnosticsDispatchBlocks(t *testing.T) {
	t.Setenv(lsptest.EnvPublishDiagnostics, "1")
	store, _, logPath, released := newGatedSyncer(t, false)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	select {
	case <-store.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("diagnostics dispatch never started")
	}

	// A genuine transition arriving while a diagnostics dispatch is stuck
	// must still be synchronized, not skipped.
	store.UpdateBuffer(editor.BufferState{ID: "b2", FilePath: "/ws/util.go", Language: "go", Content: "y"})

	opens := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 2, 5*time.Second)
	uris := map[protocol.DocumentURI]bool{}
	for _, open := range opens {
		uris[openParams(t, open).TextDocument.URI] = true
	}
	assert.True(t, uris["file:///ws/util.go"], "buffer added during dispatch should open")

	released.Do(func() { close(store.release) })
}

func TestSyncerRootChangeDoesNotBlockEditorDispatch(t *testing.T) {
	store, _, logPath, released := newGatedSyncer(t, true)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	// The root-change teardown, with its waits on server shutdown, runs on
	// the sync loop. The editor's own call returns right away.
	done := make(chan struct{})
	go func() {
		store.SetWorkspaceRoot("/elsewhere")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetWorkspaceRoot blocked behind server teardown")
	}

	select {
	case <-store.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("root teardown never reached diagnostics clearing")
	}
	lsptest.WaitForMethod(t, logPath, types.MethodShutdown, 1, 5*time.Second)

	// Transitions keep flowing while the teardown is parked and are picked
	// up once it completes.
	store.UpdateBuffer(editor.BufferState{ID: "b2", FilePath: "/ws/util.go", Language: "go", Content: "y"})
	released.Do(func() { close(store.release) })

	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 3, 5*time.Second)
}

func TestSyncerStaleFlushDoesNotCancelRearmedChange(t *testing.T) {
	store, s, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "v0"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	// First edit arms a timer. A second edit re-arms it just as the first
	// timer fires, so the first flush runs after the re-arm.
	s.mu.Lock()
	doc := s.documents["b1"]
	require.NotNil(t, doc)
	doc.content = "v1"
	s.scheduleChangeLocked(doc)
	staleGen := doc.pendingChange
	doc.content = "v2"
	s.scheduleChangeLocked(doc)
	s.mu.Unlock()

	s.flushChange("b1", doc, staleGen)

	s.mu.Lock()
	_, armed := s.debounce["b1"]
	s.mu.Unlock()
	assert.True(t, armed, "re-armed timer survives a stale flush")

	changes := lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidChange, 1, 2*time.Second)
	var params protocol.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal(changes[0].Params, &params))
	require.Len(t, params.ContentChanges, 1)
	assert.Equal(t, "v2", params.ContentChanges[0].Text)
	assert.Equal(t, int32(2), params.TextDocument.Version)

	// Exactly one didChange, no duplicate from the stale flush.
	lsptest.WaitForNoMore(t, logPath, types.MethodTextDocumentDidChange, 1, 400*time.Millisecond)
}

func TestSyncerStopClosesEverything(t *testing.T) {
	store, s, logPath := newTestSyncer(t)

	store.UpdateBuffer(editor.BufferState{ID: "b1", FilePath: "/ws/main.go", Language: "go", Content: "x"})
	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidOpen, 1, 5*time.Second)

	s.Stop()

	lsptest.WaitForMethod(t, logPath, types.MethodTextDocumentDidClose, 1, 2*time.Second)
	lsptest.WaitForMethod(t, logPath, types.MethodShutdown, 1, 2*time.Second)
	assert.Empty(t, s.Registry().Languages())

	// Stop is idempotent.
	s.Stop()
}
