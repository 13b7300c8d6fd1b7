package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is an insertion-ordered collection of engine drivers. Insertion
// order is the deterministic tiebreak for default policies, so it matters.
//
// The registry is safe for concurrent use. It owns the drivers it holds and
// closes them on [Registry.Close] or when they are swapped out by
// [Registry.Replace].
type Registry struct {
	mu      sync.RWMutex
	order   []string
	engines map[string]Engine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds a driver. Registering a duplicate id fails.
func (r *Registry) Register(e Engine) error {
	id := e.ID()
	if id == "" {
		return errors.New("engine: register: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[id]; ok {
		return fmt.Errorf("engine: register %q: already registered", id)
	}
	r.engines[id] = e
	r.order = append(r.order, id)
	return nil
}

// Get returns the driver for id.
func (r *Registry) Get(id string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}
	return e, nil
}

// IDs returns all engine ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Engines returns all drivers in registration order.
func (r *Registry) Engines() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Engine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.engines[id])
	}
	return out
}

// Available returns the ids of engines currently reporting availability, in
// registration order.
func (r *Registry) Available(ctx context.Context) []string {
	var out []string
	for _, e := range r.Engines() {
		if e.IsAvailable(ctx) {
			out = append(out, e.ID())
		}
	}
	return out
}

// EnginesForLanguage returns the ids of engines advertising lang, in
// registration order. This is the capability-derived default policy.
func (r *Registry) EnginesForLanguage(lang string) []string {
	lang = strings.ToLower(lang)
	var out []string
	for _, e := range r.Engines() {
		if e.Capabilities().SupportsLanguage(lang) {
			out = append(out, e.ID())
		}
	}
	return out
}

// Languages returns the union of all advertised languages, sorted.
func (r *Registry) Languages() []string {
	seen := make(map[string]struct{})
	for _, e := range r.Engines() {
		for _, l := range e.Capabilities().Languages {
			seen[strings.ToLower(l)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Replace swaps the full driver set atomically and closes the previous
// drivers. Used by supervised reloads; readers see either the old set or the
// new one.
func (r *Registry) Replace(engines []Engine) error {
	newMap := make(map[string]Engine, len(engines))
	newOrder := make([]string, 0, len(engines))
	for _, e := range engines {
		id := e.ID()
		if _, ok := newMap[id]; ok {
			return fmt.Errorf("engine: replace: duplicate id %q", id)
		}
		newMap[id] = e
		newOrder = append(newOrder, id)
	}

	r.mu.Lock()
	old := r.engines
	r.engines = newMap
	r.order = newOrder
	r.mu.Unlock()

	var errs []error
	for _, e := range old {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: close %s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every registered driver.
func (r *Registry) Close() error {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]Engine)
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: close %s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}
