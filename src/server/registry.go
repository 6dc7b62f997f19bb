package server

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"lspsync/src/internal/common"
	"lspsync/src/internal/types"
)

// ClientRegistry owns at most one live client per language. It spawns and
// stops the underlying processes; protocol handshakes belong to the client.
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[string]*StdioClient
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*StdioClient)}
}

// StartServer returns the existing client for the language when present,
// otherwise spawns the configured process and constructs a client. A
// client whose process exits removes itself from the registry.
func (r *ClientRegistry) StartServer(ctx context.Context, config types.ClientConfig) (*StdioClient, error) {
	r.mu.Lock()
	if existing, ok := r.clients[config.Language]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	client := NewStdioClient(config)
	if err := client.Start(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	// A concurrent caller may have won the race while we were spawning.
	if existing, ok := r.clients[config.Language]; ok {
		r.mu.Unlock()
		_ = client.Stop()
		return existing, nil
	}
	r.clients[config.Language] = client
	r.mu.Unlock()

	go func() {
		<-client.Done()
		r.remove(config.Language, client)
	}()

	return client, nil
}

// remove drops the client from the registry if it is still the registered
// one for its language.
func (r *ClientRegistry) remove(language string, client *StdioClient) {
	r.mu.Lock()
	if current, ok := r.clients[language]; ok && current == client {
		delete(r.clients, language)
		common.LSPLogger.Debug("Removed %s client from registry", language)
	}
	r.mu.Unlock()
}

// StopServer removes the client for a language and shuts it down
// gracefully: shutdown request first, termination as fallback.
func (r *ClientRegistry) StopServer(ctx context.Context, language string) error {
	r.mu.Lock()
	client, ok := r.clients[language]
	if ok {
		delete(r.clients, language)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return client.Stop()
}

// Client is a non-blocking lookup returning nil when absent.
func (r *ClientRegistry) Client(language string) *StdioClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[language]
}

// Languages returns the languages with a registered client.
func (r *ClientRegistry) Languages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	langs := make([]string, 0, len(r.clients))
	for lang := range r.clients {
		langs = append(langs, lang)
	}
	return langs
}

// StopAll shuts every registered client down concurrently.
func (r *ClientRegistry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	clients := make([]*StdioClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*StdioClient)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, c := range clients {
		g.Go(c.Stop)
	}
	if err := g.Wait(); err != nil {
		common.LSPLogger.Warn("One or more clients did not stop cleanly: %v", err)
		return err
	}
	return nil
}
