package loader

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/wundergraph/graphql-url-loader/pkg/httpexec"
)

// DefaultName is registered for both capabilities by NewRegistry.
const DefaultName = "default"

// Registry holds named fetch and WebSocket capabilities. Options refer to them by name so
// that configuration files can pick an implementation without linking code.
type Registry struct {
	mu         sync.RWMutex
	fetchers   map[string]httpexec.Doer
	webSockets map[string]*http.Client
}

func NewRegistry() *Registry {
	r := &Registry{
		fetchers:   map[string]httpexec.Doer{},
		webSockets: map[string]*http.Client{},
	}
	r.RegisterFetcher(DefaultName, httpexec.NewDefaultClient())
	r.RegisterWebSocket(DefaultName, http.DefaultClient)
	return r
}

// RegisterFetcher adds or replaces the fetch capability called name.
func (r *Registry) RegisterFetcher(name string, doer httpexec.Doer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[name] = doer
}

// RegisterWebSocket adds or replaces the client used for WebSocket upgrades under name.
func (r *Registry) RegisterWebSocket(name string, client *http.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webSockets[name] = client
}

func (r *Registry) Fetcher(name string) (httpexec.Doer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doer, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFetcher, name)
	}
	return doer, nil
}

func (r *Registry) WebSocket(name string) (*http.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.webSockets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWebSocketImpl, name)
	}
	return client, nil
}
