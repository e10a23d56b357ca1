// ABOUTME: Tests for the extension data facade against a real SQLite store
// ABOUTME: Covers lazy load, id cache bookkeeping, JSON columns and handler dispatch

package extdata

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/plugshell/internal/schema"
	"github.com/2389/plugshell/internal/store"
)

const notesDDL = `CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	body TEXT
);`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st := store.New(store.Options{Path: filepath.Join(t.TempDir(), "plugshell.db")})
	t.Cleanup(func() { st.Close() })
	return st
}

func newNotesFacade(t *testing.T) (*Facade, *schema.Registry) {
	t.Helper()

	reg := schema.NewRegistry(nil)
	require.NoError(t, reg.Register(schema.TableSchema{
		Extension:   "notes",
		Table:       "notes",
		JSONColumns: []string{"body"},
		Source:      &store.SchemaSource{Origin: "plugin_table.sql", SQL: notesDDL},
	}))

	f := New(newTestStore(t), reg, nil)
	require.NoError(t, f.SetTableName(context.Background(), "notes"))
	return f, reg
}

// rowSink collects rows delivered to an item-loaded handler.
type rowSink struct {
	mu   sync.Mutex
	rows []store.Row
}

func (s *rowSink) handle(row store.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
}

func (s *rowSink) snapshot() []store.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Row(nil), s.rows...)
}

func TestSetTableName_LoadsDeclaredTable(t *testing.T) {
	f, reg := newNotesFacade(t)

	assert.True(t, f.Materialized())
	assert.Equal(t, "notes", f.TableName())
	assert.Equal(t, []string{"id", "title", "body"}, f.Columns())
	assert.Equal(t, []string{"body"}, f.JSONColumns())
	assert.Equal(t, 0, f.TotalItems())

	ts, ok := reg.LookupTable("notes")
	require.True(t, ok)
	assert.True(t, ts.Materialized)
	assert.Equal(t, "id", ts.PrimaryKey)
}

func TestSetTableName_EmptyIgnored(t *testing.T) {
	f := New(newTestStore(t), nil, nil)

	require.NoError(t, f.SetTableName(context.Background(), ""))
	assert.Empty(t, f.TableName())

	_, err := f.Insert(context.Background(), store.Row{"title": "a"})
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestSetTableName_ScansExistingRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.EnsureTable(ctx, "notes", &store.SchemaSource{SQL: notesDDL}))
	for i := 0; i < 3; i++ {
		_, err := st.Insert(ctx, "notes", store.Row{"title": "x"})
		require.NoError(t, err)
	}

	f := New(st, nil, nil)
	require.NoError(t, f.SetTableName(ctx, "notes"))

	assert.Equal(t, 3, f.TotalItems())
	assert.True(t, f.ContainsID(1))
	assert.True(t, f.ContainsID(3))
	assert.False(t, f.ContainsID(4))
}

func TestUnmaterializedTable(t *testing.T) {
	st := newTestStore(t)
	f := New(st, schema.NewRegistry(nil), nil)
	ctx := context.Background()

	err := f.SetTableName(ctx, "notes")
	assert.ErrorIs(t, err, store.ErrTableNotFound)
	assert.False(t, f.Materialized())
	assert.False(t, st.Opened(), "no database is created without a schema source")

	id, err := f.Insert(ctx, store.Row{"title": "a"})
	assert.ErrorIs(t, err, store.ErrTableNotFound)
	assert.Equal(t, InvalidID, id)

	n, err := f.Update(ctx, store.Row{"title": "b"}, store.Where{"id": 1})
	assert.ErrorIs(t, err, store.ErrTableNotFound)
	assert.Zero(t, n)

	n, err = f.Remove(ctx, store.Where{"id": 1})
	assert.ErrorIs(t, err, store.ErrTableNotFound)
	assert.Zero(t, n)

	sink := &rowSink{}
	f.OnItemLoaded(sink.handle)
	err = f.Select(ctx, nil, store.Args{}).Wait()
	assert.ErrorIs(t, err, store.ErrTableNotFound)
	assert.Empty(t, sink.snapshot())
}

func TestSelectWait_ReportsScanError(t *testing.T) {
	st := newTestStore(t)
	f := New(st, nil, nil)
	ctx := context.Background()
	require.ErrorIs(t, f.SetTableName(ctx, "notes"), store.ErrTableNotFound)

	for i := 0; i < 500; i++ {
		err := f.Select(ctx, nil, store.Args{}).Wait()
		require.ErrorIs(t, err, store.ErrTableNotFound, "run %d", i)
	}
}

func TestNotesLifecycle(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	sink := &rowSink{}
	f.OnItemLoaded(sink.handle)

	id, err := f.Insert(ctx, store.Row{
		"title": "a",
		"body":  map[string]any{"text": "hi"},
		"extra": "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.True(t, f.ContainsID(1))
	assert.Equal(t, 1, f.TotalItems())

	require.NoError(t, f.Select(ctx, store.Where{"id": id}, store.Args{}).Wait())
	rows := sink.snapshot()
	require.Len(t, rows, 1)
	want := store.Row{
		"id":    int64(1),
		"title": "a",
		"body":  map[string]any{"text": "hi"},
	}
	if diff := cmp.Diff(want, rows[0]); diff != "" {
		t.Errorf("selected row mismatch (-want +got):\n%s", diff)
	}

	n, err := f.Update(ctx, store.Row{"title": "b"}, store.Where{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.Collect(ctx, store.Where{"id": id}, store.Args{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0]["title"])
	if diff := cmp.Diff(map[string]any{"text": "hi"}, got[0]["body"]); diff != "" {
		t.Errorf("body changed by title update (-want +got):\n%s", diff)
	}

	n, err = f.Remove(ctx, store.Where{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, f.TotalItems())

	got, err = f.Collect(ctx, nil, store.Args{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemove_ForgetsIDs(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	id, err := f.Insert(ctx, store.Row{"title": "a"})
	require.NoError(t, err)
	require.True(t, f.ContainsID(id))

	_, err = f.Remove(ctx, store.Where{"id": id})
	require.NoError(t, err)
	assert.False(t, f.ContainsID(id), "removed rows must not be reported as present")
}

func TestInsertIfAbsent(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	id, inserted, err := f.InsertIfAbsent(ctx, store.Row{"id": 7, "title": "a"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(7), id)

	id, inserted, err = f.InsertIfAbsent(ctx, store.Row{"id": float64(7), "title": "again"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 1, f.TotalItems())

	_, inserted, err = f.InsertIfAbsent(ctx, store.Row{"title": "no id"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 2, f.TotalItems())
}

func TestInsertIfAbsent_Concurrent(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	var inserted atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := f.InsertIfAbsent(ctx, store.Row{"id": 5, "title": "once"})
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	assert.Equal(t, 1, f.TotalItems())
}

func TestSelect_LimitAndOrder(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c", "d", "e"} {
		_, err := f.Insert(ctx, store.Row{"title": title})
		require.NoError(t, err)
	}

	sink := &rowSink{}
	f.OnItemLoaded(sink.handle)
	args := store.ParseArgs(map[string]any{"limit": 2, "order": "id"})
	require.NoError(t, f.Select(ctx, store.Where{}, args).Wait())

	rows := sink.snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, int64(2), rows[1]["id"])
}

func TestSelect_EveryHandlerSeesEveryRow(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.Insert(ctx, store.Row{"title": "x"})
		require.NoError(t, err)
	}

	first, second := &rowSink{}, &rowSink{}
	f.OnItemLoaded(first.handle)
	f.OnItemLoaded(second.handle)
	require.NoError(t, f.Select(ctx, nil, store.Args{}).Wait())

	assert.Len(t, first.snapshot(), 4)
	assert.Len(t, second.snapshot(), 4)
}

func TestClose_StopsDispatch(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	_, err := f.Insert(ctx, store.Row{"title": "a"})
	require.NoError(t, err)

	sink := &rowSink{}
	f.OnItemLoaded(sink.handle)
	f.Close()

	require.NoError(t, f.Select(ctx, nil, store.Args{}).Wait())
	assert.Empty(t, sink.snapshot())
}

func TestUpdate_EncodesJSONColumns(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	id, err := f.Insert(ctx, store.Row{"title": "a", "body": []any{1, 2}})
	require.NoError(t, err)

	_, err = f.Update(ctx, store.Row{"body": map[string]any{"k": "v"}}, store.Where{"id": id})
	require.NoError(t, err)

	rows, err := f.Collect(ctx, store.Where{"id": id}, store.Args{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"k": "v"}, rows[0]["body"])
}

func TestSetTableName_Rebind(t *testing.T) {
	f, _ := newNotesFacade(t)
	ctx := context.Background()

	_, err := f.Insert(ctx, store.Row{"title": "a"})
	require.NoError(t, err)

	err = f.SetTableName(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTableNotFound)
	assert.False(t, f.ContainsID(1))
	assert.Zero(t, f.TotalItems())

	require.NoError(t, f.SetTableName(ctx, "notes"))
	assert.True(t, f.ContainsID(1))
	assert.Equal(t, 1, f.TotalItems())
}
