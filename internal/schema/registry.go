// ABOUTME: Thread-safe registry of the table each extension declares.
// ABOUTME: Maps extension ids to table schemas and tracks materialization.

package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/plugshell/internal/store"
)

// ErrTableClaimed indicates another extension already declared the table.
var ErrTableClaimed = errors.New("table already claimed")

// ErrAlreadyRegistered indicates the extension already declared a table.
var ErrAlreadyRegistered = errors.New("extension already registered")

// ErrNotRegistered indicates no declaration exists for the extension or table.
var ErrNotRegistered = errors.New("schema not registered")

// TableSchema is the table declaration of one extension.
type TableSchema struct {
	Extension   string
	Table       string
	JSONColumns []string
	// Source is the DDL that materializes the table; nil means the extension
	// does not persist anything on its own.
	Source *store.SchemaSource

	// Filled in once the table exists.
	Columns      []string
	PrimaryKey   string
	Materialized bool
}

// IsJSONColumn reports whether col was declared as holding JSON text.
func (ts *TableSchema) IsJSONColumn(col string) bool {
	for _, c := range ts.JSONColumns {
		if c == col {
			return true
		}
	}
	return false
}

func (ts TableSchema) clone() TableSchema {
	out := ts
	out.JSONColumns = append([]string(nil), ts.JSONColumns...)
	out.Columns = append([]string(nil), ts.Columns...)
	return out
}

// Registry maps extension ids to their table declarations.
type Registry struct {
	mu          sync.RWMutex
	byExtension map[string]*TableSchema
	byTable     map[string]*TableSchema
	logger      *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byExtension: make(map[string]*TableSchema),
		byTable:     make(map[string]*TableSchema),
		logger:      logger.With("component", "schema"),
	}
}

// Register stores the declaration of ts.Extension.
// Returns ErrAlreadyRegistered if the extension already declared a table and
// ErrTableClaimed if another extension owns ts.Table.
func (r *Registry) Register(ts TableSchema) error {
	if err := store.ValidateTableName(ts.Table); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExtension[ts.Extension]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, ts.Extension)
	}
	if owner, exists := r.byTable[ts.Table]; exists {
		return fmt.Errorf("%w: table '%s' belongs to '%s'", ErrTableClaimed, ts.Table, owner.Extension)
	}

	entry := ts.clone()
	r.byExtension[ts.Extension] = &entry
	r.byTable[ts.Table] = &entry

	r.logger.Debug("table declared",
		"extension", ts.Extension,
		"table", ts.Table,
		"json_columns", ts.JSONColumns,
		"has_source", ts.Source != nil,
	)
	return nil
}

// Unregister removes the declaration of an extension. The table itself is
// left in the store.
func (r *Registry) Unregister(extension string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.byExtension[extension]
	if !exists {
		return
	}
	delete(r.byTable, entry.Table)
	delete(r.byExtension, extension)
}

// Lookup returns a copy of the declaration of an extension.
func (r *Registry) Lookup(extension string) (TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byExtension[extension]
	if !ok {
		return TableSchema{}, false
	}
	return entry.clone(), true
}

// LookupTable returns a copy of the declaration owning table.
func (r *Registry) LookupTable(table string) (TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byTable[table]
	if !ok {
		return TableSchema{}, false
	}
	return entry.clone(), true
}

// MarkMaterialized records the introspected shape of table.
func (r *Registry) MarkMaterialized(table string, info *store.TableInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byTable[table]
	if !ok {
		return fmt.Errorf("%w: table %s", ErrNotRegistered, table)
	}
	entry.Columns = append([]string(nil), info.Columns...)
	entry.PrimaryKey = info.PrimaryKey
	if !entry.Materialized {
		entry.Materialized = true
		r.logger.Info("table ready", "extension", entry.Extension, "table", table, "columns", len(info.Columns))
	}
	return nil
}

// List returns every declaration ordered by extension id.
func (r *Registry) List() []TableSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TableSchema, 0, len(r.byExtension))
	for _, entry := range r.byExtension {
		out = append(out, entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}
