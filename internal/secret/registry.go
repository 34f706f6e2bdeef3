package secret

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a store from opaque config (backend-specific).
type Factory func(any) (Store, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds a backend name to its factory.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// Open returns a store instance by backend name.
func Open(name string, cfg any) (Store, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return f(cfg)
}

// Names lists registered backends.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func isBackendName(s string) bool {
	switch s {
	case "keyring", "encrypted", "vault", "mock":
		return true
	}
	regMu.RLock()
	defer regMu.RUnlock()
	_, ok := registry[s]
	return ok
}
