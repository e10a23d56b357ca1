// ABOUTME: Catalog of Go extensions that bundle manifests can name as their entry
// ABOUTME: Thread-safe; entry names are unique

package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrEntryExists indicates an entry name is already registered.
var ErrEntryExists = errors.New("entry already registered")

// Extension is the code behind a bundle.
type Extension interface {
	// Init prepares the extension. It runs once, under the loader's init
	// timeout; returning an error or panicking marks the bundle Failed. An
	// Init that outlives the timeout is abandoned and should return once ctx
	// is done.
	Init(ctx context.Context, host *Host) error
}

// Stopper is implemented by extensions that hold resources until shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Factory builds a fresh Extension.
type Factory func() Extension

// Catalog maps entry names to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under entry.
func (c *Catalog) Register(entry string, f Factory) error {
	if entry == "" || f == nil {
		return fmt.Errorf("register %q: entry name and factory are required", entry)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[entry]; exists {
		return fmt.Errorf("%w: %s", ErrEntryExists, entry)
	}
	c.factories[entry] = f
	return nil
}

// Lookup returns the factory registered under entry.
func (c *Catalog) Lookup(entry string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[entry]
	return f, ok
}

// Entries returns the registered entry names in sorted order.
func (c *Catalog) Entries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.factories))
	for name := range c.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
