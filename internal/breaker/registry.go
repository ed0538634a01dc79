package breaker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the breakers of a process keyed by dependency name. It is
// explicitly constructed and injected rather than kept as a package global,
// so tests can run isolated breaker sets in parallel.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker built from cfg and returns it. Registering the
// same name twice replaces the previous breaker.
func (r *Registry) Register(cfg Config) *Breaker {
	b := New(cfg)
	r.mu.Lock()
	r.breakers[cfg.Name] = b
	r.mu.Unlock()
	return b
}

// Get returns the breaker for a dependency name.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Reset manually closes the named breaker.
func (r *Registry) Reset(name string) error {
	b, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown breaker %q", name)
	}
	b.Reset()
	return nil
}

// Snapshots returns the state of every registered breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
