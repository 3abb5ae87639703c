// Package locks provides exclusive-acquire registries keyed by escrow ID
// and by wallet endpoint, guaranteeing the coordination invariants in the
// concurrency model: holding a key's lock serializes every mutation of the
// entity it identifies.
package locks

import "sync"

// Registry maps arbitrary string keys to exclusive mutexes, creating them
// atomically on first access.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key, creating it if absent. Lookup and
// creation happen under the registry's own mutex so concurrent callers
// for the same key always receive the same *sync.Mutex instance.
func (r *Registry) Get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.entries[key]
	if !ok {
		m = &sync.Mutex{}
		r.entries[key] = m
	}
	return m
}

// Cleanup removes entries for the given keys. Safe to call even if some
// keys are still locked elsewhere — the *sync.Mutex a caller is holding
// remains valid even after its map entry is deleted; only a later Get
// for the same key would (harmlessly) mint a fresh mutex.
func (r *Registry) Cleanup(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.entries, k)
	}
}

// ActiveCount reports the number of tracked keys, for the health endpoint.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WalletKey builds the per-wallet lock key from an endpoint URL and wallet
// filename, per the data model's (endpoint URL, wallet filename) shape.
func WalletKey(endpointURL, walletFilename string) string {
	return endpointURL + "|" + walletFilename
}
