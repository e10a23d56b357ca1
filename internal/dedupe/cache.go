// ABOUTME: Set of integer primary keys known to exist in one facade's table.
// ABOUTME: Used by extension data facades to avoid inserting the same record twice.

package dedupe

import "sync"

// IDCache is a thread-safe set of int64 primary keys. It reflects only what
// its owner has observed: rows written through another facade on the same
// table are not seen until the owner reloads.
type IDCache struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// New creates an empty cache.
func New() *IDCache {
	return &IDCache{ids: make(map[int64]struct{})}
}

// Reset replaces the cache contents with ids.
func (c *IDCache) Reset(ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
}

// Contains reports whether id is known.
func (c *IDCache) Contains(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.ids[id]
	return ok
}

// Mark records id as known.
func (c *IDCache) Mark(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = struct{}{}
}

// CheckAndMark atomically checks whether id is known and marks it if not.
// Returns true if id was already known.
func (c *IDCache) CheckAndMark(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[id]; ok {
		return true
	}
	c.ids[id] = struct{}{}
	return false
}

// Forget removes ids from the cache.
func (c *IDCache) Forget(ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		delete(c.ids, id)
	}
}

// Len returns the number of known ids.
func (c *IDCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
