package syncer

import (
	"context"
	"fmt"
	"sort"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"lspsync/src/editor"
	"lspsync/src/internal/common"
	"lspsync/src/internal/registry"
	"lspsync/src/internal/types"
	"lspsync/src/server"
	"lspsync/src/utils"
)

// ensureClient returns a ready client for the language, starting and
// initializing one if needed. Concurrent callers for the same language
// share a single in-flight acquisition.
func (s *Synchronizer) ensureClient(language string) (*server.StdioClient, error) {
	for {
		s.mu.Lock()
		client := s.registry.Client(language)
		if client != nil && client.IsReady() {
			s.mu.Unlock()
			return client, nil
		}
		if flight, inFlight := s.ensuring[language]; inFlight {
			s.mu.Unlock()
			<-flight.done
			if flight.err != nil {
				return nil, flight.err
			}
			// Loop to re-check: the shared client may have died since.
			if flight.client != nil && flight.client.IsReady() {
				return flight.client, nil
			}
			continue
		}
		flight := &ensureFlight{done: make(chan struct{})}
		s.ensuring[language] = flight
		rootURI := s.rootURI
		s.mu.Unlock()

		flight.client, flight.err = s.startAndInitialize(language, rootURI)

		s.mu.Lock()
		delete(s.ensuring, language)
		s.mu.Unlock()
		close(flight.done)
		return flight.client, flight.err
	}
}

// startAndInitialize tries each candidate command line in order until one
// spawns and completes the handshake.
func (s *Synchronizer) startAndInitialize(language, rootURI string) (*server.StdioClient, error) {
	info, ok := registry.GetLanguageByName(language)
	if !ok {
		return nil, fmt.Errorf("unknown language: %s", language)
	}

	ctx := context.Background()
	var lastErr error
	for _, candidate := range s.candidateCommands(language, info) {
		cfg := types.ClientConfig{
			Language:              language,
			Command:               candidate[0],
			Args:                  append([]string(nil), candidate[1:]...),
			RootURI:               rootURI,
			InitializationOptions: s.initOptions(language, info),
		}

		client, err := s.registry.StartServer(ctx, cfg)
		if err != nil {
			common.SyncLogger.Warn("Failed to start %s server %q: %v", language, candidate[0], err)
			lastErr = err
			continue
		}

		s.bindDiagnostics(language, client)

		if err := client.Initialize(ctx, rootURI); err != nil {
			common.SyncLogger.Warn("Failed to initialize %s server %q: %v", language, candidate[0], err)
			if stopErr := s.registry.StopServer(ctx, language); stopErr != nil {
				common.SyncLogger.Debug("Stopping failed %s server: %v", language, stopErr)
			}
			lastErr = err
			continue
		}

		common.SyncLogger.Info("%s language server ready (%s, pid %d)", language, candidate[0], client.PID())
		return client, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no server command configured for %s", language)
	}
	return nil, lastErr
}

// candidateCommands resolves the ordered command lines to try: a user
// override wins outright, otherwise the registry default followed by its
// fallbacks.
func (s *Synchronizer) candidateCommands(language string, info *registry.LanguageInfo) [][]string {
	if cfg := s.settings.LSPServers[language]; cfg != nil && cfg.Command != "" {
		return [][]string{append([]string{cfg.Command}, cfg.Args...)}
	}
	candidates := [][]string{append([]string{info.DefaultCommand}, info.DefaultArgs...)}
	return append(candidates, info.FallbackCommands()...)
}

func (s *Synchronizer) initOptions(language string, info *registry.LanguageInfo) map[string]interface{} {
	if cfg := s.settings.LSPServers[language]; cfg != nil && len(cfg.InitializationOptions) > 0 {
		return cfg.InitializationOptions
	}
	return info.GetInitOptions()
}

// bindDiagnostics registers the diagnostics fan-out on a client, once per
// client instance.
func (s *Synchronizer) bindDiagnostics(language string, client *server.StdioClient) {
	s.mu.Lock()
	if s.bound[language] == client {
		s.mu.Unlock()
		return
	}
	s.bound[language] = client
	s.mu.Unlock()

	client.OnDiagnostics(func(uri protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
		s.publishDiagnostics(uri, diagnostics)
	})
}

// publishDiagnostics routes one server push to every buffer holding the
// document. Unknown URIs are dropped.
func (s *Synchronizer) publishDiagnostics(uri protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
	s.mu.Lock()
	var bufferIDs []string
	for bufferID := range s.uriToBuffers[string(uri)] {
		bufferIDs = append(bufferIDs, bufferID)
	}
	s.mu.Unlock()

	for _, bufferID := range bufferIDs {
		s.store.Dispatch(editor.SetBufferDiagnostics{BufferID: bufferID, Diagnostics: diagnostics})
	}
}

// pushOpenFiles sends the current open-file set to servers that track
// project roots by open files. Only changes are pushed.
func (s *Synchronizer) pushOpenFiles(language string) {
	info, ok := registry.GetLanguageByName(language)
	if !ok || !info.PushOpenFiles {
		return
	}

	s.mu.Lock()
	var paths []string
	for _, doc := range s.documents {
		if doc.serverLanguage == language {
			paths = append(paths, utils.URIToFilePath(uri.URI(doc.uri)))
		}
	}
	sort.Strings(paths)
	if equalStrings(s.lastPushed[language], paths) {
		s.mu.Unlock()
		return
	}
	s.lastPushed[language] = paths
	s.mu.Unlock()

	client := s.registry.Client(language)
	if client == nil || !client.IsReady() {
		return
	}
	settings := map[string]interface{}{
		language: map[string]interface{}{"openFiles": paths},
	}
	if err := client.DidChangeConfiguration(context.Background(), settings); err != nil {
		common.SyncLogger.Warn("Pushing open files to %s server failed: %v", language, err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
