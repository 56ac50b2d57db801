package gear

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownGear is returned by New for an unregistered key.
	ErrUnknownGear = errors.New("gear: unknown gear")
	// ErrDuplicateGear is returned by Register when the key is taken.
	ErrDuplicateGear = errors.New("gear: duplicate gear")
)

// Factory builds a fresh gear instance for one worker.
type Factory func() Gear

// Registry maps stable gear keys to factories. It is populated at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	manifests map[string]Manifest
}

// Default is the process registry populated by the gears package.
var Default = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		manifests: make(map[string]Manifest),
	}
}

// Register adds f under the key reported by its manifest.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return fmt.Errorf("gear: register: nil factory")
	}
	m := f().Manifest()
	if m.Key == "" {
		return fmt.Errorf("gear: register: manifest has empty key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[m.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGear, m.Key)
	}
	r.factories[m.Key] = f
	r.manifests[m.Key] = m
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// New builds a gear instance for key.
func (r *Registry) New(key string) (Gear, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGear, key)
	}
	return f(), nil
}

// Lookup returns the manifest for key.
func (r *Registry) Lookup(key string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[key]
	return m, ok
}

// Manifests returns all registered manifests sorted by key.
func (r *Registry) Manifests() []Manifest {
	r.mu.RLock()
	out := make([]Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
