// ABOUTME: Host is what an extension sees of the shell during and after Init
// ABOUTME: Hands out data facades bound to the bundle's declared table

package loader

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/plugshell/internal/extdata"
	"github.com/2389/plugshell/internal/schema"
)

// ErrNoDataTable indicates the bundle's manifest declares no table.
var ErrNoDataTable = errors.New("bundle declares no data table")

// ErrNoStore indicates the loader was built without a store.
var ErrNoStore = errors.New("no store configured")

// Host gives an extension access to its bundle and its data.
type Host struct {
	name     string
	dir      string
	cacheDir string
	manifest *Manifest
	logger   *slog.Logger

	store   extdata.DataStore
	schemas *schema.Registry

	mu      sync.Mutex
	facades []*extdata.Facade
}

// Name returns the extension name.
func (h *Host) Name() string { return h.name }

// Dir returns the bundle directory.
func (h *Host) Dir() string { return h.dir }

// CacheDir returns the extension's artifact cache entry, or "" when the
// cache is disabled.
func (h *Host) CacheDir() string { return h.cacheDir }

// Manifest returns the bundle manifest.
func (h *Host) Manifest() *Manifest { return h.manifest }

// Logger returns a logger tagged with the extension name.
func (h *Host) Logger() *slog.Logger { return h.logger }

// Data returns a new facade bound to the bundle's table. The table is
// materialized on first use if the bundle ships a schema file; otherwise a
// missing table yields store.ErrTableNotFound.
func (h *Host) Data(ctx context.Context) (*extdata.Facade, error) {
	table := h.manifest.Data.Table
	if table == "" {
		return nil, ErrNoDataTable
	}
	if h.store == nil {
		return nil, ErrNoStore
	}

	f := extdata.New(h.store, h.schemas, h.logger)
	if len(h.manifest.Data.JSONColumns) > 0 {
		f.SetJSONColumns(h.manifest.Data.JSONColumns)
	}
	if err := f.SetTableName(ctx, table); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.facades = append(h.facades, f)
	h.mu.Unlock()
	return f, nil
}

// Close makes every facade handed out by Data inert.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range h.facades {
		f.Close()
	}
	h.facades = nil
}
