package build

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openrig/rigcore/internal/capability"
)

// Factory constructs one device from its resolved init map. Reference
// markers have already been substituted with built devices, and the key
// "uid" carries the device's own identifier.
type Factory func(init map[string]any) (capability.Device, error)

// Registry maps target type identifiers to factory functions. It replaces
// runtime type lookup with an explicit table populated once at process start.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given target identifier.
// Registering the same identifier twice is an error.
func (r *Registry) Register(target string, factory Factory) error {
	if target == "" {
		return fmt.Errorf("build: empty target identifier")
	}
	if factory == nil {
		return fmt.Errorf("build: nil factory for target %q", target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[target]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, target)
	}
	r.factories[target] = factory
	return nil
}

// Lookup returns the factory for a target identifier.
func (r *Registry) Lookup(target string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[target]
	return f, ok
}

// Targets returns the sorted list of registered target identifiers.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]string, 0, len(r.factories))
	for t := range r.factories {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}
