package walletrpc

import (
	"strings"
	"sync"

	"github.com/satisfyguy/escrowd/internal/store"
)

// StoreEndpoints resolves a *Client per (escrow, role) from wallet-RPC
// endpoint configuration registered in the store, unsealing it on first
// use and caching the constructed client for the life of the process —
// satisfies both internal/coordinator.Endpoints and
// internal/orchestrator.Endpoints, whose method sets are identical.
type StoreEndpoints struct {
	store *store.Store

	mu      sync.Mutex
	clients map[string]*Client
}

// NewStoreEndpoints wraps s for wallet-rpc client resolution.
func NewStoreEndpoints(s *store.Store) *StoreEndpoints {
	return &StoreEndpoints{
		store:   s,
		clients: make(map[string]*Client),
	}
}

func endpointKey(escrowID string, role store.Role) string {
	return escrowID + "|" + string(role)
}

// ClientFor returns the cached client for (escrowID, role), constructing
// and caching one on first call.
func (e *StoreEndpoints) ClientFor(escrowID string, role store.Role) (*Client, error) {
	key := endpointKey(escrowID, role)

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[key]; ok {
		return c, nil
	}

	url, creds, err := e.store.LoadEndpoint(escrowID, role)
	if err != nil {
		return nil, err
	}

	username, password := splitCredentials(creds)
	c := New(Config{EndpointURL: url, Username: username, Password: password})
	e.clients[key] = c
	return c, nil
}

// Forget evicts a cached client, forcing the next ClientFor call to reload
// endpoint configuration from the store.
func (e *StoreEndpoints) Forget(escrowID string, role store.Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, endpointKey(escrowID, role))
}

func splitCredentials(creds string) (username, password string) {
	if creds == "" {
		return "", ""
	}
	idx := strings.IndexByte(creds, ':')
	if idx < 0 {
		return creds, ""
	}
	return creds[:idx], creds[idx+1:]
}
