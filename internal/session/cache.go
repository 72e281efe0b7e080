package session

import (
	"sync"

	"github.com/lotas/plfolders/internal/catalog"
)

// Cache holds the latest scan for one page view. Every invalidation starts
// a new generation; a scan result is accepted only for the generation it
// was started under, so a scan that raced a mutation is discarded.
type Cache struct {
	mu    sync.Mutex
	gen   uint64
	items []catalog.Item
	valid bool
}

// Invalidate drops the cached items and returns the new generation.
func (c *Cache) Invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.items = nil
	c.valid = false
	return c.gen
}

// Store caches items if gen is still current.
func (c *Cache) Store(gen uint64, items []catalog.Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.items = items
	c.valid = true
	return true
}

// Get returns the cached items, if any.
func (c *Cache) Get() ([]catalog.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items, c.valid
}
