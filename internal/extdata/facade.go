// ABOUTME: Per-extension table facade: lazy load, id cache, JSON marshalling and CRUD
// ABOUTME: Selects run on query workers and rows are relayed to item-loaded handlers

package extdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/plugshell/internal/dedupe"
	"github.com/2389/plugshell/internal/query"
	"github.com/2389/plugshell/internal/schema"
	"github.com/2389/plugshell/internal/store"
)

// InvalidID is returned by Insert when no row was written.
const InvalidID int64 = -1

// ErrNoTable is returned when an operation runs before SetTableName.
var ErrNoTable = errors.New("table name not set")

// DataStore is the part of the store a facade needs.
type DataStore interface {
	query.Selecter
	EnsureTable(ctx context.Context, name string, src *store.SchemaSource) error
	TableInfo(ctx context.Context, name string) (*store.TableInfo, error)
	IDs(ctx context.Context, table string) ([]int64, error)
	Insert(ctx context.Context, table string, row store.Row) (int64, error)
	Update(ctx context.Context, table string, row store.Row, where store.Where) (int64, error)
	Delete(ctx context.Context, table string, where store.Where) ([]int64, error)
}

// Handler receives one row of a select.
type Handler func(row store.Row)

// Facade gives an extension CRUD access to its own table.
type Facade struct {
	store   DataStore
	schemas *schema.Registry
	logger  *slog.Logger
	ids     *dedupe.IDCache

	mu          sync.RWMutex
	table       string
	info        *store.TableInfo // nil until the table is loaded
	jsonColumns []string
	handlers    []Handler

	closed atomic.Bool
}

// New creates an unbound facade. schemas may be nil when no declarations
// are available; tables must then already exist.
func New(st DataStore, schemas *schema.Registry, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		store:   st,
		schemas: schemas,
		logger:  logger.With("component", "extdata"),
		ids:     dedupe.New(),
	}
}

// SetTableName binds the facade to a table and loads it. An empty name is
// ignored; setting the current name again does nothing. Binding to a
// different table discards everything known about the previous one.
func (f *Facade) SetTableName(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	f.mu.Lock()
	if f.table == name && f.info != nil {
		f.mu.Unlock()
		return nil
	}
	f.table = name
	f.info = nil
	f.mu.Unlock()

	f.ids.Reset(nil)
	return f.load(ctx, name)
}

// load materializes the table if a schema source is declared, then scans it.
func (f *Facade) load(ctx context.Context, table string) error {
	var src *store.SchemaSource
	if f.schemas != nil {
		if ts, ok := f.schemas.LookupTable(table); ok {
			src = ts.Source
			f.mu.Lock()
			if len(f.jsonColumns) == 0 {
				f.jsonColumns = ts.JSONColumns
			}
			f.mu.Unlock()
		}
	}

	if err := f.store.EnsureTable(ctx, table, src); err != nil {
		if store.IsNotFound(err) {
			f.logger.Debug("table not materialized", "table", table)
		} else {
			f.logger.Error("failed to ensure table", "table", table, "error", err)
		}
		return err
	}

	info, err := f.store.TableInfo(ctx, table)
	if err != nil {
		return fmt.Errorf("loading columns of %s: %w", table, err)
	}
	ids, err := f.store.IDs(ctx, table)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", table, err)
	}

	f.mu.Lock()
	if f.table != table {
		// Rebound while loading.
		f.mu.Unlock()
		return nil
	}
	f.info = info
	f.mu.Unlock()
	f.ids.Reset(ids)

	if f.schemas != nil {
		if err := f.schemas.MarkMaterialized(table, info); err != nil && !errors.Is(err, schema.ErrNotRegistered) {
			return err
		}
	}

	f.logger.Debug("table loaded", "table", table, "columns", len(info.Columns), "rows", len(ids))
	return nil
}

// SetJSONColumns declares the columns holding JSON text.
func (f *Facade) SetJSONColumns(cols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonColumns = append([]string(nil), cols...)
}

// JSONColumns returns the declared JSON columns.
func (f *Facade) JSONColumns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.jsonColumns...)
}

// TableName returns the bound table.
func (f *Facade) TableName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.table
}

// Columns returns the table's columns, empty until loaded.
func (f *Facade) Columns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.info == nil {
		return nil
	}
	return append([]string(nil), f.info.Columns...)
}

// Materialized reports whether the bound table exists.
func (f *Facade) Materialized() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.info != nil
}

// TotalItems returns the number of rows in the table as observed by this facade.
func (f *Facade) TotalItems() int {
	return f.ids.Len()
}

// ContainsID reports whether a row with primary key id is known to exist.
func (f *Facade) ContainsID(id int64) bool {
	return f.ids.Contains(id)
}

// OnItemLoaded registers a handler for the rows of every later Select.
func (f *Facade) OnItemLoaded(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// bound returns the table state needed by a write.
func (f *Facade) bound() (string, *store.TableInfo, []string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.table == "" {
		return "", nil, nil, ErrNoTable
	}
	if f.info == nil {
		return f.table, nil, nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, f.table)
	}
	return f.table, f.info, f.jsonColumns, nil
}

// parseData returns a copy of data restricted to the table's columns, with
// structured values in JSON columns encoded as text.
func parseData(info *store.TableInfo, jsonColumns []string, data store.Row) (store.Row, error) {
	row := make(store.Row, len(data))
	for k, v := range data {
		if info.HasColumn(k) {
			row[k] = v
		}
	}
	if err := query.EncodeColumns(row, jsonColumns); err != nil {
		return nil, err
	}
	return row, nil
}

// Insert writes a row and returns its primary key, or InvalidID on failure.
func (f *Facade) Insert(ctx context.Context, data store.Row) (int64, error) {
	table, info, jsonCols, err := f.bound()
	if err != nil {
		return InvalidID, err
	}
	row, err := parseData(info, jsonCols, data)
	if err != nil {
		return InvalidID, err
	}

	id, err := f.store.Insert(ctx, table, row)
	if err != nil {
		f.logger.Error("insert failed", "table", table, "error", err)
		return InvalidID, err
	}

	f.ids.Mark(id)
	return id, nil
}

// InsertIfAbsent inserts data unless its primary key is already known.
// It returns the row's id and whether a row was written.
func (f *Facade) InsertIfAbsent(ctx context.Context, data store.Row) (int64, bool, error) {
	_, info, _, err := f.bound()
	if err != nil {
		return InvalidID, false, err
	}
	key, hasKey := primaryKeyOf(info, data)
	if hasKey && f.ids.CheckAndMark(key) {
		return key, false, nil
	}
	id, err := f.Insert(ctx, data)
	if err != nil {
		if hasKey {
			f.ids.Forget(key)
		}
		return InvalidID, false, err
	}
	return id, true, nil
}

func primaryKeyOf(info *store.TableInfo, data store.Row) (int64, bool) {
	switch v := data[info.PrimaryKey].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Update applies data to the rows matching where and returns how many changed.
func (f *Facade) Update(ctx context.Context, data store.Row, where store.Where) (int64, error) {
	table, info, jsonCols, err := f.bound()
	if err != nil {
		return 0, err
	}
	row, err := parseData(info, jsonCols, data)
	if err != nil {
		return 0, err
	}

	n, err := f.store.Update(ctx, table, row, where)
	if err != nil {
		f.logger.Error("update failed", "table", table, "error", err)
		return 0, err
	}
	return n, nil
}

// Remove deletes the rows matching where and returns how many were removed.
// Removed ids are dropped from the identifier cache.
func (f *Facade) Remove(ctx context.Context, where store.Where) (int64, error) {
	table, _, _, err := f.bound()
	if err != nil {
		return 0, err
	}

	ids, err := f.store.Delete(ctx, table, where)
	if err != nil {
		f.logger.Error("remove failed", "table", table, "error", err)
		return 0, err
	}

	f.ids.Forget(ids...)
	return int64(len(ids)), nil
}

// Close stops dispatching rows to handlers. Selects already running finish
// in the background.
func (f *Facade) Close() {
	f.closed.Store(true)
}
