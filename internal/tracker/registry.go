package tracker

import "sync/atomic"

// Registry holds the active catalog and lets a reload swap it while requests
// keep reading the previous one.
type Registry struct {
	current atomic.Pointer[Catalog]
}

// NewRegistry starts with c, or the built-in catalog when c is nil.
func NewRegistry(c *Catalog) *Registry {
	r := &Registry{}
	r.Store(c)
	return r
}

// Load returns the active catalog.
func (r *Registry) Load() *Catalog {
	return r.current.Load()
}

// Store replaces the active catalog.
func (r *Registry) Store(c *Catalog) {
	if c == nil {
		c = DefaultCatalog()
	}
	r.current.Store(c)
}
