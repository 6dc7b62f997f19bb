// Package editor defines the application state contract the LSP runtime
// observes and acts on: an observable store of open buffers and the
// workspace root, plus the diagnostics actions the runtime dispatches back.
package editor

import (
	"sync"

	"go.lsp.dev/protocol"
)

// BufferState is one open buffer as the runtime sees it.
type BufferState struct {
	ID       string
	FilePath string
	Language string
	Content  string
	Dirty    bool
}

// WorkspaceState describes the current workspace.
type WorkspaceState struct {
	RootPath string
}

// State is a snapshot of editor state.
type State struct {
	Buffers     map[string]BufferState
	Workspace   WorkspaceState
	Diagnostics map[string][]protocol.Diagnostic
}

// Action is a state mutation dispatched to the store. The LSP runtime's
// only externally visible effects are the diagnostics actions below.
type Action interface{ isAction() }

// SetBufferDiagnostics replaces the diagnostics for one buffer.
type SetBufferDiagnostics struct {
	BufferID    string
	Diagnostics []protocol.Diagnostic
}

// ClearBufferDiagnostics removes all diagnostics for one buffer.
type ClearBufferDiagnostics struct {
	BufferID string
}

// ClearAllDiagnostics removes diagnostics for every buffer.
type ClearAllDiagnostics struct{}

func (SetBufferDiagnostics) isAction()   {}
func (ClearBufferDiagnostics) isAction() {}
func (ClearAllDiagnostics) isAction()    {}

// Store is the observable state container contract.
type Store interface {
	// Subscribe registers a listener called after every state transition.
	// The returned function unsubscribes it.
	Subscribe(listener func()) (unsubscribe func())

	// GetState returns a snapshot safe for the caller to read.
	GetState() State

	// Dispatch applies an action and notifies subscribers.
	Dispatch(action Action)
}

// MemoryStore is the reference Store implementation used by the CLI and
// tests.
type MemoryStore struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func()
	nextSub   int
}

// NewMemoryStore creates a store with no buffers and the given root.
func NewMemoryStore(rootPath string) *MemoryStore {
	return &MemoryStore{
		state: State{
			Buffers:     make(map[string]BufferState),
			Workspace:   WorkspaceState{RootPath: rootPath},
			Diagnostics: make(map[string][]protocol.Diagnostic),
		},
		listeners: make(map[int]func()),
	}
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(listener func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// GetState implements Store. The returned snapshot shares no mutable
// structure with the store.
func (s *MemoryStore) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *MemoryStore) snapshotLocked() State {
	buffers := make(map[string]BufferState, len(s.state.Buffers))
	for id, b := range s.state.Buffers {
		buffers[id] = b
	}
	diags := make(map[string][]protocol.Diagnostic, len(s.state.Diagnostics))
	for id, d := range s.state.Diagnostics {
		diags[id] = append([]protocol.Diagnostic(nil), d...)
	}
	return State{Buffers: buffers, Workspace: s.state.Workspace, Diagnostics: diags}
}

// Dispatch implements Store.
func (s *MemoryStore) Dispatch(action Action) {
	s.mu.Lock()
	switch a := action.(type) {
	case SetBufferDiagnostics:
		s.state.Diagnostics[a.BufferID] = append([]protocol.Diagnostic(nil), a.Diagnostics...)
	case ClearBufferDiagnostics:
		delete(s.state.Diagnostics, a.BufferID)
	case ClearAllDiagnostics:
		s.state.Diagnostics = make(map[string][]protocol.Diagnostic)
	}
	s.mu.Unlock()
	s.notify()
}

// UpdateBuffer inserts or replaces a buffer and notifies subscribers.
func (s *MemoryStore) UpdateBuffer(b BufferState) {
	s.mu.Lock()
	s.state.Buffers[b.ID] = b
	s.mu.Unlock()
	s.notify()
}

// RemoveBuffer deletes a buffer and notifies subscribers.
func (s *MemoryStore) RemoveBuffer(id string) {
	s.mu.Lock()
	delete(s.state.Buffers, id)
	s.mu.Unlock()
	s.notify()
}

// SetWorkspaceRoot changes the workspace root and notifies subscribers.
func (s *MemoryStore) SetWorkspaceRoot(rootPath string) {
	s.mu.Lock()
	s.state.Workspace.RootPath = rootPath
	s.mu.Unlock()
	s.notify()
}

func (s *MemoryStore) notify() {
	s.mu.Lock()
	listeners := make([]func(), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}
