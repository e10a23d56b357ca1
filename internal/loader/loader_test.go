// ABOUTME: Tests for discovery, per-bundle failure isolation and completion signaling
// ABOUTME: Bundles live on afero.MemMapFs; tables go to a SQLite file under t.TempDir()

package loader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/plugshell/internal/extdata"
	"github.com/2389/plugshell/internal/schema"
	"github.com/2389/plugshell/internal/store"
)

const notesSQL = `CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	body TEXT
);`

// notesExtension writes one row during Init.
type notesExtension struct {
	data *extdata.Facade
}

func (n *notesExtension) Init(ctx context.Context, host *Host) error {
	f, err := host.Data(ctx)
	if err != nil {
		return err
	}
	n.data = f
	_, err = f.Insert(ctx, store.Row{"title": "welcome", "body": map[string]any{"from": host.Name()}})
	return err
}

type failingExtension struct{}

func (failingExtension) Init(context.Context, *Host) error { return errors.New("boom") }

type blockingExtension struct{}

func (blockingExtension) Init(ctx context.Context, _ *Host) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	fs      afero.Fs
	store   *store.Store
	schemas *schema.Registry
	catalog *Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.New(store.Options{Path: filepath.Join(t.TempDir(), "plugshell.db")})
	t.Cleanup(func() { st.Close() })

	return &fixture{
		fs:      afero.NewMemMapFs(),
		store:   st,
		schemas: schema.NewRegistry(nil),
		catalog: NewCatalog(),
	}
}

func (f *fixture) loader(opts Options) *Loader {
	opts.Fs = f.fs
	opts.Store = f.store
	opts.Schemas = f.schemas
	opts.Catalog = f.catalog
	if opts.Dirs == nil {
		opts.Dirs = []string{"/plugins"}
	}
	return New(opts)
}

func byName(records []Record) map[string]Record {
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.Name] = r
	}
	return out
}

func TestLoadPlugins(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.catalog.Register("notes", func() Extension { return &notesExtension{} }))
	require.NoError(t, fx.catalog.Register("failing", func() Extension { return failingExtension{} }))

	writeFile(t, fx.fs, "/plugins/notes/plugin.toml", `
name = "notes"
entry = "notes"
[data]
table = "notes"
json_columns = ["body"]
`)
	writeFile(t, fx.fs, "/plugins/notes/plugin_table.sql", notesSQL)
	writeFile(t, fx.fs, "/plugins/notes/README.md", "# Notes\n\nKeeps *notes*.\n")
	writeFile(t, fx.fs, "/plugins/notes/assets/icon.svg", "<svg/>")

	writeFile(t, fx.fs, "/plugins/bookmarks/plugin.toml", "name = \"bookmarks\"\n[data]\ntable = \"bookmarks\"\n")
	writeFile(t, fx.fs, "/plugins/bookmarks/plugin_table.sql", `CREATE TABLE bookmarks (id INTEGER PRIMARY KEY, url TEXT)`)

	writeFile(t, fx.fs, "/plugins/clock/plugin.toml", `name = "clock"`)
	writeFile(t, fx.fs, "/plugins/broken/plugin.toml", `name = `)
	writeFile(t, fx.fs, "/plugins/mystery/plugin.toml", "name = \"mystery\"\nentry = \"nope\"\n")
	writeFile(t, fx.fs, "/plugins/sad/plugin.toml", "name = \"sad\"\nentry = \"failing\"\n")
	writeFile(t, fx.fs, "/plugins/zz-notes/plugin.toml", `name = "notes"`)
	writeFile(t, fx.fs, "/plugins/not-a-bundle/readme.txt", "no manifest here")
	writeFile(t, fx.fs, "/plugins/stray.toml", `name = "stray"`)

	l := fx.loader(Options{CacheDir: "/cache"})
	require.NoError(t, l.LoadPlugins(context.Background()))

	select {
	case got := <-l.Finished():
		assert.Same(t, l, got)
	default:
		t.Fatal("Finished did not fire")
	}

	records := l.Records()
	require.Len(t, records, 7)
	assert.Equal(t, "bookmarks", records[0].Name, "records follow directory order")

	active := byName(l.Active())
	assert.Len(t, active, 3)
	for _, name := range []string{"notes", "bookmarks", "clock"} {
		assert.Contains(t, active, name)
	}

	failed := l.Failed()
	require.Len(t, failed, 4)
	errs := map[string]error{}
	for _, r := range failed {
		errs[filepath.Base(r.Path)] = r.Err
		assert.Equal(t, StateFailed, r.State)
	}
	assert.Error(t, errs["broken"])
	assert.ErrorIs(t, errs["mystery"], ErrUnknownEntry)
	assert.ErrorContains(t, errs["sad"], "boom")
	assert.ErrorIs(t, errs["zz-notes"], ErrDuplicateExtension)

	notes := active["notes"]
	assert.NotEmpty(t, notes.ID)
	assert.Len(t, notes.Digest, 64)
	assert.Contains(t, notes.ReadmeHTML, "<h1>Notes</h1>")
	assert.Contains(t, notes.ReadmeHTML, "<em>notes</em>")
	assert.Equal(t, "/cache/notes", notes.Host.CacheDir())
	assert.Equal(t, "<svg/>", readFile(t, fx.fs, "/cache/notes/icon.svg"))

	ext, ok := notes.Extension.(*notesExtension)
	require.True(t, ok)
	assert.Equal(t, 1, ext.data.TotalItems())
	assert.True(t, ext.data.ContainsID(1))

	ts, ok := fx.schemas.Lookup("bookmarks")
	require.True(t, ok)
	assert.True(t, ts.Materialized, "declarative bundle tables are materialized at load")
	assert.Equal(t, []string{"id", "url"}, ts.Columns)

	_, ok = fx.schemas.Lookup("clock")
	assert.False(t, ok, "bundles without a table declare nothing")

	assert.ErrorIs(t, l.LoadPlugins(context.Background()), ErrAlreadyLoaded)
}

func TestLoadPlugins_TableWithoutSchema(t *testing.T) {
	fx := newFixture(t)
	writeFile(t, fx.fs, "/plugins/weather/plugin.toml", "name = \"weather\"\n[data]\ntable = \"forecasts\"\n")

	l := fx.loader(Options{})
	require.NoError(t, l.LoadPlugins(context.Background()))

	assert.Len(t, l.Active(), 1)
	assert.False(t, fx.store.Opened(), "no schema file means no database")

	ts, ok := fx.schemas.Lookup("weather")
	require.True(t, ok)
	assert.Nil(t, ts.Source)
	assert.False(t, ts.Materialized)
}

func TestLoadPlugins_MissingDeclaredSchema(t *testing.T) {
	fx := newFixture(t)
	writeFile(t, fx.fs, "/plugins/x/plugin.toml", "name = \"x\"\n[data]\ntable = \"x\"\nschema = \"missing.sql\"\n")

	l := fx.loader(Options{})
	require.NoError(t, l.LoadPlugins(context.Background()))

	failed := l.Failed()
	require.Len(t, failed, 1)
	assert.ErrorContains(t, failed[0].Err, "missing.sql")
}

func TestLoadPlugins_FailedInitReleasesTable(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.catalog.Register("failing", func() Extension { return failingExtension{} }))
	writeFile(t, fx.fs, "/plugins/sad/plugin.toml", "name = \"sad\"\nentry = \"failing\"\n[data]\ntable = \"sad\"\n")

	l := fx.loader(Options{})
	require.NoError(t, l.LoadPlugins(context.Background()))

	require.Len(t, l.Failed(), 1)
	_, ok := fx.schemas.LookupTable("sad")
	assert.False(t, ok, "a failed bundle gives up its table claim")
}

func TestLoadPlugins_MissingDirectories(t *testing.T) {
	fx := newFixture(t)

	l := fx.loader(Options{Dirs: []string{"/nowhere", "/also/nowhere"}})
	require.NoError(t, l.LoadPlugins(context.Background()))

	assert.Empty(t, l.Records())
	select {
	case <-l.Finished():
	default:
		t.Fatal("Finished must fire even with nothing discovered")
	}
}

func TestLoadPlugins_InitTimeout(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.catalog.Register("blocking", func() Extension { return blockingExtension{} }))
	writeFile(t, fx.fs, "/plugins/slow/plugin.toml", "name = \"slow\"\nentry = \"blocking\"\n")
	writeFile(t, fx.fs, "/plugins/quick/plugin.toml", `name = "quick"`)

	l := fx.loader(Options{InitTimeout: 50 * time.Millisecond})
	require.NoError(t, l.LoadPlugins(context.Background()))

	failed := l.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "slow", failed[0].Name)
	assert.ErrorIs(t, failed[0].Err, context.DeadlineExceeded)
	assert.Len(t, l.Active(), 1)
}

type panickingExtension struct{}

func (panickingExtension) Init(context.Context, *Host) error { panic("boom") }

func TestLoadPlugins_InitPanicIsIsolated(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.catalog.Register("panicking", func() Extension { return panickingExtension{} }))
	writeFile(t, fx.fs, "/plugins/bad/plugin.toml", "name = \"bad\"\nentry = \"panicking\"\n")
	writeFile(t, fx.fs, "/plugins/good/plugin.toml", `name = "good"`)

	l := fx.loader(Options{})
	require.NoError(t, l.LoadPlugins(context.Background()))

	select {
	case <-l.Finished():
	default:
		t.Fatal("Finished did not fire")
	}

	failed := l.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Name)
	assert.ErrorIs(t, failed[0].Err, ErrInitPanic)
	assert.ErrorContains(t, failed[0].Err, "boom")

	active := l.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "good", active[0].Name)
}

// stubbornExtension ignores its context until released.
type stubbornExtension struct {
	release chan struct{}
}

func (s stubbornExtension) Init(context.Context, *Host) error {
	<-s.release
	return nil
}

func TestLoadPlugins_InitIgnoringContextIsAbandoned(t *testing.T) {
	fx := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, fx.catalog.Register("stubborn", func() Extension { return stubbornExtension{release: release} }))
	writeFile(t, fx.fs, "/plugins/stuck/plugin.toml", "name = \"stuck\"\nentry = \"stubborn\"\n")

	l := fx.loader(Options{InitTimeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- l.LoadPlugins(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("LoadPlugins blocked on an Init that ignores its context")
	}

	failed := l.Failed()
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, context.DeadlineExceeded)
}

// gaugeExtension records how many inits run at once.
type gaugeExtension struct {
	current, peak *atomic.Int32
}

func (g gaugeExtension) Init(context.Context, *Host) error {
	n := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

func TestLoadPlugins_BoundedConcurrency(t *testing.T) {
	fx := newFixture(t)
	var current, peak atomic.Int32
	require.NoError(t, fx.catalog.Register("gauge", func() Extension {
		return gaugeExtension{current: &current, peak: &peak}
	}))
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		writeFile(t, fx.fs, "/plugins/"+name+"/plugin.toml", "entry = \"gauge\"\n")
	}

	l := fx.loader(Options{Concurrency: 2})
	require.NoError(t, l.LoadPlugins(context.Background()))

	assert.Len(t, l.Active(), 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestLoadPlugins_ForceClearCache(t *testing.T) {
	fx := newFixture(t)
	writeFile(t, fx.fs, "/plugins/a/plugin.toml", `name = "a"`)
	writeFile(t, fx.fs, "/cache/leftover/big.bin", "0123456789")

	l := fx.loader(Options{CacheDir: "/cache"})
	l.SetForceClearCache(true)
	require.NoError(t, l.LoadPlugins(context.Background()))

	exists, err := afero.Exists(fx.fs, "/cache/leftover")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = afero.Exists(fx.fs, "/cache/a/.stamp")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadPlugins_KeepsCacheByDefault(t *testing.T) {
	fx := newFixture(t)
	writeFile(t, fx.fs, "/plugins/a/plugin.toml", `name = "a"`)
	writeFile(t, fx.fs, "/cache/leftover/big.bin", "0123456789")

	l := fx.loader(Options{CacheDir: "/cache"})
	require.NoError(t, l.LoadPlugins(context.Background()))

	exists, err := afero.Exists(fx.fs, "/cache/leftover/big.bin")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRelease(t *testing.T) {
	fx := newFixture(t)
	writeFile(t, fx.fs, "/plugins/a/plugin.toml", `name = "a"`)
	writeFile(t, fx.fs, "/plugins/b/plugin.toml", `name = `)

	l := fx.loader(Options{})
	require.NoError(t, l.LoadPlugins(context.Background()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		done := <-l.Finished()
		done.Release()
	}()
	wg.Wait()

	assert.Empty(t, l.Records())
	assert.Empty(t, l.Active())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "discovered", StateDiscovered.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "finished", StateFinished.String())
	assert.Equal(t, "unknown", State(42).String())
}
