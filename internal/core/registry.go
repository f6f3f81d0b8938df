package core

import (
	"sort"
	"sync"
)

// Registry is the table of available controls keyed by control id.
//
// Registering an id twice replaces the earlier control. All methods are safe
// for concurrent use, so controls may be registered while scans read the
// table.
type Registry struct {
	mu       sync.RWMutex
	controls map[string]Control
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controls: make(map[string]Control)}
}

// Register adds controls to the registry. The last registration for an id wins.
func (r *Registry) Register(controls ...Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range controls {
		r.controls[c.Info().ID] = c
	}
}

// Get looks up a control by id.
func (r *Registry) Get(id string) (Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[id]
	return c, ok
}

// All returns every registered control sorted by id.
func (r *Registry) All() []Control {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedControls(r.controls, func(Control) bool { return true })
}

// ByDomain returns the controls of one domain sorted by id.
func (r *Registry) ByDomain(domain string) []Control {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedControls(r.controls, func(c Control) bool { return c.Info().Domain == domain })
}

// Resolve returns the controls for ids, dropping ids that are not
// registered. An empty ids list selects every control.
func (r *Registry) Resolve(ids []string) []Control {
	if len(ids) == 0 {
		return r.All()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var selected []Control
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := r.controls[id]; ok {
			selected = append(selected, c)
		}
	}
	return selected
}

// Len returns the number of registered controls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controls)
}

func sortedControls(controls map[string]Control, keep func(Control) bool) []Control {
	var out []Control
	for _, c := range controls {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().ID < out[j].Info().ID })
	return out
}
