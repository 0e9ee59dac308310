package pipelines

import (
	"fmt"
	"sync"
)

// Registry holds the available plugins in registration order.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	bySlug  map[string]Plugin
}

// NewRegistry creates a registry holding plugins in the given order.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{bySlug: make(map[string]Plugin)}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p. Slugs and titles must be non-empty and slugs unique.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("nil plugin")
	}
	slug := p.Slug()
	if slug == "" {
		return fmt.Errorf("pipeline must define a slug")
	}
	if p.Title() == "" {
		return fmt.Errorf("pipeline %s must define a title", slug)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.bySlug[slug]; dup {
		return fmt.Errorf("pipeline %s already registered", slug)
	}
	r.plugins = append(r.plugins, p)
	r.bySlug[slug] = p
	return nil
}

// Get returns the plugin registered under slug.
func (r *Registry) Get(slug string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySlug[slug]
	return p, ok
}

// All returns the plugins in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Select returns the plugins whose slug is in slugs, in registration order.
// An empty slugs selects everything. Unknown slugs are an error.
func (r *Registry) Select(slugs []string) ([]Plugin, error) {
	if len(slugs) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		if _, ok := r.Get(s); !ok {
			return nil, fmt.Errorf("unknown pipeline %q", s)
		}
		want[s] = true
	}
	var out []Plugin
	for _, p := range r.All() {
		if want[p.Slug()] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Describe lists registered plugins.
func (r *Registry) Describe() []Info {
	plugins := r.All()
	out := make([]Info, len(plugins))
	for i, p := range plugins {
		out[i] = Describe(p)
	}
	return out
}
