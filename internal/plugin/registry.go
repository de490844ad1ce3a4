package plugin

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps command names and aliases to descriptors.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Descriptor
	aliases map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Descriptor),
		aliases: make(map[string]string),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces the descriptor named d.Name. An alias already
// claimed by another plugin's name or alias is rejected.
func (r *Registry) Register(d Descriptor) error {
	d = d.clone()
	d.Name = normalizeName(d.Name)
	if d.Name == "" {
		return newInvalidError(d.FilePath, "name is required")
	}

	aliases := make([]string, 0, len(d.Aliases))
	seen := map[string]bool{d.Name: true}
	for _, alias := range d.Aliases {
		alias = normalizeName(alias)
		if alias == "" || seen[alias] {
			continue
		}
		seen[alias] = true
		aliases = append(aliases, alias)
	}
	d.Aliases = aliases

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.aliases[d.Name]; ok && owner != d.Name {
		return newAliasConflictError(d.Name, d.Name, owner)
	}
	for _, alias := range aliases {
		if _, ok := r.byName[alias]; ok && alias != d.Name {
			return newAliasConflictError(d.Name, alias, alias)
		}
		if owner, ok := r.aliases[alias]; ok && owner != d.Name {
			return newAliasConflictError(d.Name, alias, owner)
		}
	}

	if prev, ok := r.byName[d.Name]; ok {
		for _, alias := range prev.Aliases {
			delete(r.aliases, alias)
		}
	}
	r.byName[d.Name] = d
	for _, alias := range aliases {
		r.aliases[alias] = d.Name
	}
	return nil
}

// Remove drops name and its aliases. It reports whether anything was removed.
func (r *Registry) Remove(name string) bool {
	name = normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byName[name]
	if !ok {
		return false
	}
	for _, alias := range d.Aliases {
		delete(r.aliases, alias)
	}
	delete(r.byName, name)
	return true
}

// Get returns the usable descriptor for name; disabled plugins are absent.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.Lookup(name)
	if !ok || !d.Enabled {
		return Descriptor{}, false
	}
	return d, true
}

// Lookup returns the descriptor for name regardless of its enabled state.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[normalizeName(name)]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// GetByAlias returns the enabled descriptor that owns alias.
func (r *Registry) GetByAlias(alias string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.aliases[normalizeName(alias)]
	if !ok {
		return Descriptor{}, false
	}
	d, ok := r.byName[name]
	if !ok || !d.Enabled {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Resolve finds token as a name first, then as an alias, in any state.
func (r *Registry) Resolve(token string) (Descriptor, bool) {
	token = normalizeName(token)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byName[token]; ok {
		return d.clone(), true
	}
	if name, ok := r.aliases[token]; ok {
		if d, ok := r.byName[name]; ok {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// All lists every descriptor ordered by category, then name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ByCategory lists the descriptors in category ordered by name.
func (r *Registry) ByCategory(category string) []Descriptor {
	var out []Descriptor
	for _, d := range r.All() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// SetEnabled flips the enabled flag of name.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	return r.Update(name, func(d *Descriptor) { d.Enabled = enabled })
}

// Update replaces the descriptor for name with a modified copy.
func (r *Registry) Update(name string, fn func(*Descriptor)) error {
	name = normalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byName[name]
	if !ok {
		return newNotFoundError(name)
	}
	next := d.clone()
	fn(&next)
	next.Name = d.Name
	next.Aliases = d.Aliases
	r.byName[name] = next
	return nil
}

// FindByPath returns the descriptor loaded from path.
func (r *Registry) FindByPath(path string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.byName {
		if d.FilePath != "" && d.FilePath == path {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
