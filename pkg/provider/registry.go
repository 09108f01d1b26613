package provider

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	providertypes "turnrelay/pkg/provider/types"
)

// ErrAdapterNotFound is returned when no registered pattern matches a key.
var ErrAdapterNotFound = errors.New("adapter not found")

type entry struct {
	pattern *regexp.Regexp
	factory providertypes.Factory
}

// Registry maps "<provider>.<modelName>" keys to adapter factories. Patterns
// are tried in registration order and the first match wins.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Key builds the composite lookup key for a provider and model.
func Key(provider, modelName string) string {
	return provider + "." + modelName
}

// Register adds a factory for keys matching pattern.
func (r *Registry) Register(pattern string, factory providertypes.Factory) error {
	if factory == nil {
		return errors.New("factory is required")
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile adapter pattern %q: %w", pattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{pattern: compiled, factory: factory})
	return nil
}

// Resolve returns the factory of the first pattern matching key.
func (r *Registry) Resolve(key string) (providertypes.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.pattern.MatchString(key) {
			return e.factory, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, key)
}

// Patterns lists registered patterns in priority order.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		patterns = append(patterns, e.pattern.String())
	}
	return patterns
}
