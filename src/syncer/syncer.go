// Package syncer keeps the editor's open buffers synchronized with
// language server processes. It observes editor state transitions, drives
// the didOpen/didChange/didSave/didClose lifecycle of each LSP-eligible
// buffer, debounces rapid edits, restarts everything on workspace-root
// change, and fans incoming diagnostics back out to the store.
package syncer

import (
	"context"
	"sync"
	"time"

	"lspsync/src/config"
	"lspsync/src/editor"
	"lspsync/src/internal/common"
	"lspsync/src/server"
	"lspsync/src/utils"
)

// trackedDocument is one open, LSP-eligible buffer as seen on the wire.
type trackedDocument struct {
	bufferID       string
	uri            string
	serverLanguage string
	languageID     string

	// Mutated only under Synchronizer.mu.
	content       string
	dirty         bool
	version       int32
	opened        bool
	pendingChange int           // debounce generation, invalidates stale flushes
	openDone      chan struct{} // closed when the in-flight open finishes
}

// ensureFlight is one in-flight server acquisition, shared by concurrent
// callers for the same language.
type ensureFlight struct {
	done   chan struct{}
	client *server.StdioClient
	err    error
}

// Synchronizer is the stateful orchestrator between editor state and
// language servers.
type Synchronizer struct {
	store    editor.Store
	settings *config.Settings
	registry *server.ClientRegistry

	mu           sync.Mutex
	documents    map[string]*trackedDocument        // bufferID -> document
	uriToBuffers map[string]map[string]struct{}     // uri -> bufferIDs
	debounce     map[string]*time.Timer             // bufferID -> pending didChange
	ensuring     map[string]*ensureFlight           // language -> in-flight acquisition
	bound        map[string]*server.StdioClient     // language -> client with diagnostics callback
	lastPushed   map[string][]string                // language -> last open-file set pushed
	rootPath     string
	rootURI      string
	started      bool

	// Store notifications are coalesced into wake and consumed by run on a
	// single goroutine, so the listener returns immediately no matter what
	// the loop is doing and no transition is ever dropped.
	wake     chan struct{}
	stopLoop chan struct{}
	loopDone chan struct{}

	unsubscribe func()
}

// New creates a synchronizer over the given store and settings.
func New(store editor.Store, settings *config.Settings) *Synchronizer {
	return &Synchronizer{
		store:        store,
		settings:     settings,
		registry:     server.NewClientRegistry(),
		documents:    make(map[string]*trackedDocument),
		uriToBuffers: make(map[string]map[string]struct{}),
		debounce:     make(map[string]*time.Timer),
		ensuring:     make(map[string]*ensureFlight),
		bound:        make(map[string]*server.StdioClient),
		lastPushed:   make(map[string][]string),
		wake:         make(chan struct{}, 1),
	}
}

// Registry exposes the server registry for feature requests (completion,
// hover) issued outside the synchronization loop.
func (s *Synchronizer) Registry() *server.ClientRegistry {
	return s.registry
}

// Start snapshots current editor state, starts the sync loop, and
// subscribes to subsequent transitions.
func (s *Synchronizer) Start() error {
	state := s.store.GetState()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.rootPath = state.Workspace.RootPath
	s.rootURI = string(utils.FilePathToURI(state.Workspace.RootPath))
	s.stopLoop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.run()

	unsubscribe := s.store.Subscribe(s.requestSync)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	// Initial sync runs on the loop like every later transition.
	s.requestSync()
	return nil
}

// Stop tears the runtime down: every tracked document is closed, every
// server stopped, all diagnostics cleared.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	stopLoop := s.stopLoop
	loopDone := s.loopDone
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(stopLoop)
	<-loopDone

	s.mu.Lock()
	docs := s.detachAllLocked()
	s.mu.Unlock()

	s.closeDetached(docs)
	if err := s.registry.StopAll(context.Background()); err != nil {
		common.SyncLogger.Warn("Stopping language servers: %v", err)
	}
	s.store.Dispatch(editor.ClearAllDiagnostics{})
}

// requestSync is the store listener. It only marks the loop for a wake-up
// and never blocks, so the editor's dispatch returns immediately no matter
// what the loop is doing. Back-to-back notifications coalesce into one
// pass over the then-current state.
func (s *Synchronizer) requestSync() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the single consumer of state transitions. All reconciliation,
// including root-change teardown, happens here rather than on the goroutine
// that dispatched to the store.
func (s *Synchronizer) run() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.stopLoop:
			return
		case <-s.wake:
			s.reconcile()
		}
	}
}

// reconcile applies one editor state snapshot. The synchronizer's own
// dispatches touch only diagnostics, which reconciliation never reads, so
// the wake-ups they cause collapse into no-op passes here.
func (s *Synchronizer) reconcile() {
	state := s.store.GetState()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	rootChanged := state.Workspace.RootPath != s.rootPath
	s.mu.Unlock()

	if rootChanged {
		s.handleRootChange(state)
		return
	}

	s.closeRemovedBuffers(state)
	s.synchronizeBuffers(state)
}

// handleRootChange is the hard cancellation point: all debounce timers are
// cleared and every document lifecycle torn down, every server stopped and
// all diagnostics cleared, before any buffer is resynchronized against the
// new root.
func (s *Synchronizer) handleRootChange(state editor.State) {
	common.SyncLogger.Info("Workspace root changed to %s, restarting language servers", state.Workspace.RootPath)

	s.mu.Lock()
	docs := s.detachAllLocked()
	s.rootPath = state.Workspace.RootPath
	s.rootURI = string(utils.FilePathToURI(state.Workspace.RootPath))
	s.mu.Unlock()

	s.closeDetached(docs)
	if err := s.registry.StopAll(context.Background()); err != nil {
		common.SyncLogger.Warn("Stopping language servers on root change: %v", err)
	}
	s.store.Dispatch(editor.ClearAllDiagnostics{})

	s.synchronizeBuffers(state)
}

// detachAllLocked cancels all debounce timers and removes every tracked
// document, returning them for wire-level close.
func (s *Synchronizer) detachAllLocked() []*trackedDocument {
	for id, timer := range s.debounce {
		timer.Stop()
		delete(s.debounce, id)
	}
	docs := make([]*trackedDocument, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc)
	}
	s.documents = make(map[string]*trackedDocument)
	s.uriToBuffers = make(map[string]map[string]struct{})
	s.lastPushed = make(map[string][]string)
	return docs
}

// closeDetached emits didClose for every detached document that reached
// the wire, waiting out any in-flight open first.
func (s *Synchronizer) closeDetached(docs []*trackedDocument) {
	var wg sync.WaitGroup
	for _, doc := range docs {
		wg.Add(1)
		go func(doc *trackedDocument) {
			defer wg.Done()
			s.sendDidClose(doc)
		}(doc)
	}
	wg.Wait()
}

// closeRemovedBuffers closes documents whose buffers disappeared from
// editor state.
func (s *Synchronizer) closeRemovedBuffers(state editor.State) {
	s.mu.Lock()
	var removed []string
	for bufferID := range s.documents {
		if _, ok := state.Buffers[bufferID]; !ok {
			removed = append(removed, bufferID)
		}
	}
	s.mu.Unlock()

	for _, bufferID := range removed {
		s.closeBuffer(bufferID)
	}
}

// synchronizeBuffers resynchronizes every buffer present in the state.
func (s *Synchronizer) synchronizeBuffers(state editor.State) {
	for _, buf := range state.Buffers {
		s.syncBuffer(buf)
	}
}
