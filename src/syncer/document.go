package syncer

import (
	"context"
	"time"

	"lspsync/src/editor"
	"lspsync/src/internal/common"
	"lspsync/src/internal/constants"
	"lspsync/src/internal/registry"
	"lspsync/src/utils"
)

// syncBuffer reconciles one buffer against its tracked document. A buffer
// participates only when it has a file path and a language that resolves
// to a known server; everything else is ignored, and a previously tracked
// buffer that loses eligibility is closed.
func (s *Synchronizer) syncBuffer(buf editor.BufferState) {
	serverLanguage, known := registry.ResolveServerLanguage(buf.Language)
	eligible := buf.FilePath != "" && known

	s.mu.Lock()
	doc := s.documents[buf.ID]

	if !eligible {
		s.mu.Unlock()
		if doc != nil {
			s.closeBuffer(buf.ID)
		}
		return
	}

	uri := string(utils.FilePathToURI(buf.FilePath))

	if doc != nil && (doc.uri != uri || doc.serverLanguage != serverLanguage || doc.languageID != buf.Language) {
		// Identity changed (rename, filetype switch). The old document
		// lifecycle ends and a fresh one begins.
		s.mu.Unlock()
		s.closeBuffer(buf.ID)
		s.mu.Lock()
		doc = nil
	}

	if doc == nil {
		doc = &trackedDocument{
			bufferID:       buf.ID,
			uri:            uri,
			serverLanguage: serverLanguage,
			languageID:     buf.Language,
			content:        buf.Content,
			dirty:          buf.Dirty,
			openDone:       make(chan struct{}),
		}
		s.documents[buf.ID] = doc
		buffers := s.uriToBuffers[uri]
		if buffers == nil {
			buffers = make(map[string]struct{})
			s.uriToBuffers[uri] = buffers
		}
		buffers[buf.ID] = struct{}{}
		s.mu.Unlock()

		go s.openDocument(doc)
		return
	}

	contentChanged := buf.Content != doc.content
	savedNow := doc.dirty && !buf.Dirty
	doc.content = buf.Content
	doc.dirty = buf.Dirty

	if contentChanged {
		s.scheduleChangeLocked(doc)
	}
	s.mu.Unlock()

	if savedNow {
		go s.sendDidSave(doc)
	}
}

// openDocument acquires the language server and sends didOpen. opened is
// only set once didOpen actually reached the wire; openDone is closed
// either way so close and change paths never block forever.
func (s *Synchronizer) openDocument(doc *trackedDocument) {
	defer close(doc.openDone)

	client, err := s.ensureClient(doc.serverLanguage)
	if err != nil {
		common.SyncLogger.Warn("No %s language server for %s: %v", doc.serverLanguage, doc.uri, err)
		return
	}

	s.mu.Lock()
	text := doc.content
	s.mu.Unlock()

	ctx := context.Background()
	if err := client.DidOpen(ctx, doc.uri, doc.languageID, 1, text); err != nil {
		common.SyncLogger.Warn("didOpen %s failed: %v", doc.uri, err)
		return
	}

	s.mu.Lock()
	doc.opened = true
	doc.version = 1
	s.mu.Unlock()

	s.pushOpenFiles(doc.serverLanguage)
}

// scheduleChangeLocked arms (or re-arms) the debounce timer for a buffer.
// Rapid successive edits collapse into one didChange carrying the latest
// content. Each re-arm advances the document's generation so a flush whose
// timer already fired cannot act on a superseded edit. Caller holds s.mu.
func (s *Synchronizer) scheduleChangeLocked(doc *trackedDocument) {
	if timer := s.debounce[doc.bufferID]; timer != nil {
		timer.Stop()
	}
	doc.pendingChange++
	gen := doc.pendingChange
	s.debounce[doc.bufferID] = time.AfterFunc(constants.ChangeDebounceInterval, func() {
		s.flushChange(doc.bufferID, doc, gen)
	})
}

// flushChange sends the coalesced didChange for one buffer. The version is
// only advanced after the notification was handed to the transport. A stale
// flush, one that fired just as an edit re-armed the timer, neither sends
// nor unregisters its successor.
func (s *Synchronizer) flushChange(bufferID string, doc *trackedDocument, gen int) {
	s.mu.Lock()
	if s.documents[bufferID] != doc || doc.pendingChange != gen {
		s.mu.Unlock()
		return
	}
	delete(s.debounce, bufferID)
	s.mu.Unlock()

	// didChange never precedes a completed didOpen.
	<-doc.openDone

	s.mu.Lock()
	if s.documents[bufferID] != doc || doc.pendingChange != gen || !doc.opened {
		s.mu.Unlock()
		return
	}
	content := doc.content
	nextVersion := doc.version + 1
	s.mu.Unlock()

	client := s.registry.Client(doc.serverLanguage)
	if client == nil || !client.IsReady() {
		return
	}
	if err := client.DidChange(context.Background(), doc.uri, nextVersion, content); err != nil {
		common.SyncLogger.Warn("didChange %s failed: %v", doc.uri, err)
		return
	}

	s.mu.Lock()
	if s.documents[bufferID] == doc && doc.pendingChange == gen {
		doc.version = nextVersion
	}
	s.mu.Unlock()
}

// sendDidSave notifies the server that a buffer transitioned dirty to
// clean. Saves are not debounced.
func (s *Synchronizer) sendDidSave(doc *trackedDocument) {
	<-doc.openDone

	s.mu.Lock()
	opened := doc.opened
	content := doc.content
	s.mu.Unlock()
	if !opened {
		return
	}

	client := s.registry.Client(doc.serverLanguage)
	if client == nil || !client.IsReady() {
		return
	}
	if err := client.DidSave(context.Background(), doc.uri, content); err != nil {
		common.SyncLogger.Warn("didSave %s failed: %v", doc.uri, err)
	}
}

// closeBuffer ends the lifecycle of one tracked buffer: its debounce timer
// is cancelled, its diagnostics cleared, and exactly one didClose is sent
// once any in-flight open has settled.
func (s *Synchronizer) closeBuffer(bufferID string) {
	s.mu.Lock()
	doc := s.documents[bufferID]
	if doc == nil {
		s.mu.Unlock()
		return
	}
	delete(s.documents, bufferID)
	if timer := s.debounce[bufferID]; timer != nil {
		timer.Stop()
		delete(s.debounce, bufferID)
	}
	if buffers := s.uriToBuffers[doc.uri]; buffers != nil {
		delete(buffers, bufferID)
		if len(buffers) == 0 {
			delete(s.uriToBuffers, doc.uri)
		}
	}
	s.mu.Unlock()

	s.store.Dispatch(editor.ClearBufferDiagnostics{BufferID: bufferID})
	go s.sendDidClose(doc)
}

// sendDidClose waits for the open lifecycle to settle and closes the
// document on the wire if it was ever opened.
func (s *Synchronizer) sendDidClose(doc *trackedDocument) {
	<-doc.openDone

	s.mu.Lock()
	opened := doc.opened
	s.mu.Unlock()

	if opened {
		client := s.registry.Client(doc.serverLanguage)
		if client != nil && client.IsReady() {
			if err := client.DidClose(context.Background(), doc.uri); err != nil {
				common.SyncLogger.Warn("didClose %s failed: %v", doc.uri, err)
			}
		}
	}
	s.pushOpenFiles(doc.serverLanguage)
}
