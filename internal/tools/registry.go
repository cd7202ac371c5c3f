package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/normanking/netbot/internal/persona"
)

// Registry maps (persona, capability) to callables. It is populated once at
// start and read concurrently afterwards.
type Registry struct {
	store *persona.Store

	mu        sync.RWMutex
	instances map[string]Instance
	globals   map[string]Func
}

// NewRegistry creates an empty registry over a persona catalog.
func NewRegistry(store *persona.Store) *Registry {
	return &Registry{
		store:     store,
		instances: make(map[string]Instance),
		globals:   make(map[string]Func),
	}
}

// Store returns the catalog the registry validates against.
func (r *Registry) Store() *persona.Store {
	return r.store
}

// BindInstance attaches a stateful handler to a persona. Every name in the
// instance's table must be declared for that persona.
func (r *Registry) BindInstance(personaKey string, inst Instance) error {
	p, ok := r.store.Get(personaKey)
	if !ok {
		return fmt.Errorf("bind instance: unknown persona %q", personaKey)
	}

	for name := range inst.Capabilities() {
		if _, declared := p.Capability(name); !declared {
			return fmt.Errorf("bind instance %s.%s: %w", p.Key, name, ErrNotDeclared)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[p.Key]; exists {
		return fmt.Errorf("instance for persona %s already bound", p.Key)
	}
	r.instances[p.Key] = inst
	return nil
}

// BindGlobal registers a free function under a capability name declared in
// the catalog.
func (r *Registry) BindGlobal(name string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("bind %s: nil function", name)
	}
	if _, declared := r.store.Capability(name); !declared {
		return fmt.Errorf("bind %s: %w", name, ErrNotDeclared)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.globals[name]; exists {
		return fmt.Errorf("function %s already bound", name)
	}
	r.globals[name] = fn
	return nil
}

// Resolve finds the callable for a persona and function: the persona's
// instance first, then global functions declared for that persona.
func (r *Registry) Resolve(personaKey, function string) (Func, error) {
	notFound := &CapabilityNotFoundError{Persona: personaKey, Function: function}

	p, ok := r.store.Get(personaKey)
	if !ok {
		return nil, notFound
	}
	notFound.Persona = p.Key

	r.mu.RLock()
	defer r.mu.RUnlock()

	if inst, ok := r.instances[p.Key]; ok {
		if fn, ok := inst.Capabilities()[function]; ok && fn != nil {
			return fn, nil
		}
	}

	if _, declared := p.Capability(function); declared {
		if fn, ok := r.globals[function]; ok {
			return fn, nil
		}
	}

	return nil, notFound
}

// Validate reports every declared capability without a binding.
func (r *Registry) Validate() error {
	var missing []string
	for _, p := range r.store.All() {
		for _, name := range p.CapabilityNames() {
			if _, err := r.Resolve(p.Key, name); err != nil {
				missing = append(missing, p.Key+"."+name)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.New("unbound capabilities: " + strings.Join(missing, ", "))
}
