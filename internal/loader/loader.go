// ABOUTME: Extension loader: discovery, per-bundle initialization and completion signaling
// ABOUTME: Failures are isolated per bundle; Finished fires once after every bundle completed

package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"golang.org/x/sync/errgroup"

	"github.com/2389/plugshell/internal/extdata"
	"github.com/2389/plugshell/internal/metrics"
	"github.com/2389/plugshell/internal/schema"
	"github.com/2389/plugshell/internal/store"
)

var (
	// ErrAlreadyLoaded is returned by a second LoadPlugins call.
	ErrAlreadyLoaded = errors.New("plugins already loaded")
	// ErrUnknownEntry indicates a manifest entry with no catalog registration.
	ErrUnknownEntry = errors.New("unknown extension entry")
	// ErrDuplicateExtension indicates two bundles with the same name.
	ErrDuplicateExtension = errors.New("duplicate extension name")
	// ErrInitPanic indicates an extension panicked during Init.
	ErrInitPanic = errors.New("extension panicked during init")
)

// DefaultConcurrency bounds parallel initialization when Options leaves it unset.
const DefaultConcurrency = 4

// Options configures a Loader.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Dirs are scanned in order for bundle directories.
	Dirs []string
	// CacheDir is the artifact cache root; empty disables the cache.
	CacheDir    string
	Concurrency int
	// InitTimeout bounds each Extension.Init; zero means no limit.
	InitTimeout time.Duration

	Store   extdata.DataStore
	Schemas *schema.Registry
	Catalog *Catalog
	Logger  *slog.Logger
}

// Loader discovers and initializes extension bundles.
type Loader struct {
	fs          afero.Fs
	dirs        []string
	concurrency int
	initTimeout time.Duration
	store       extdata.DataStore
	schemas     *schema.Registry
	catalog     *Catalog
	cache       *artifactCache
	logger      *slog.Logger
	markdown    goldmark.Markdown

	forceClear bool
	finished   chan *Loader

	mu      sync.Mutex
	loaded  bool
	records []*Record
}

// New creates a Loader.
func New(opts Options) *Loader {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Schemas == nil {
		opts.Schemas = schema.NewRegistry(opts.Logger)
	}
	if opts.Catalog == nil {
		opts.Catalog = NewCatalog()
	}

	logger := opts.Logger.With("component", "loader")
	return &Loader{
		fs:          opts.Fs,
		dirs:        opts.Dirs,
		concurrency: opts.Concurrency,
		initTimeout: opts.InitTimeout,
		store:       opts.Store,
		schemas:     opts.Schemas,
		catalog:     opts.Catalog,
		cache:       &artifactCache{fs: opts.Fs, root: opts.CacheDir, logger: logger},
		logger:      logger,
		markdown:    goldmark.New(),
		finished:    make(chan *Loader, 1),
	}
}

// SetForceClearCache makes LoadPlugins purge the artifact cache before
// discovery. Call it before LoadPlugins.
func (l *Loader) SetForceClearCache(force bool) {
	l.forceClear = force
}

// Finished receives the loader once every discovered bundle has completed
// initialization.
func (l *Loader) Finished() <-chan *Loader {
	return l.finished
}

// LoadPlugins discovers every bundle and initializes it. It returns after the
// last bundle has completed; per-bundle failures are recorded on their
// Record and never returned.
func (l *Loader) LoadPlugins(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		return ErrAlreadyLoaded
	}
	l.loaded = true
	l.mu.Unlock()

	if l.forceClear {
		if err := l.cache.clear(); err != nil {
			l.logger.Error("failed to clear artifact cache", "error", err)
		}
	}

	records := l.discover()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, rec := range records {
		if rec.State == StateFailed {
			continue
		}
		rec := rec
		g.Go(func() error {
			l.initialize(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	active, failed := l.counts()
	l.logger.Info("plugins loaded", "active", active, "failed", failed)

	l.finished <- l
	return nil
}

// discover walks the plugin directories and records every bundle found.
func (l *Loader) discover() []*Record {
	seen := make(map[string]string)
	var records []*Record

	for _, dir := range l.dirs {
		entries, err := afero.ReadDir(l.fs, dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				l.logger.Debug("plugin directory missing", "dir", dir)
			} else {
				l.logger.Warn("failed to read plugin directory", "dir", dir, "error", err)
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			bundle := filepath.Join(dir, entry.Name())
			data, err := afero.ReadFile(l.fs, filepath.Join(bundle, ManifestFile))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			rec := &Record{
				ID:    uuid.NewString(),
				Name:  entry.Name(),
				Path:  bundle,
				State: StateDiscovered,
			}
			l.add(rec)
			records = append(records, rec)

			if err != nil {
				l.fail(rec, fmt.Errorf("reading manifest: %w", err))
				continue
			}
			m, unknown, err := ParseManifest(data, entry.Name())
			if err != nil {
				l.fail(rec, err)
				continue
			}
			if len(unknown) > 0 {
				l.logger.Warn("unknown manifest keys", "bundle", bundle, "keys", unknown)
			}

			l.update(rec, func(r *Record) {
				r.Name = m.Name
				r.Manifest = m
			})
			if prev, dup := seen[m.Name]; dup {
				l.fail(rec, fmt.Errorf("%w: %s also defined in %s", ErrDuplicateExtension, m.Name, prev))
				continue
			}
			seen[m.Name] = bundle
			l.logger.Debug("bundle discovered", "name", m.Name, "path", bundle)
		}
	}
	return records
}

func (l *Loader) initialize(ctx context.Context, rec *Record) {
	start := time.Now()
	l.update(rec, func(r *Record) { r.State = StateInitializing })

	err := l.initBundle(ctx, rec)
	metrics.ExtensionInitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if rec.Host != nil {
			rec.Host.Close()
		}
		if !errors.Is(err, schema.ErrTableClaimed) && !errors.Is(err, schema.ErrAlreadyRegistered) {
			l.schemas.Unregister(rec.Manifest.Name)
		}
		l.fail(rec, err)
		return
	}

	l.update(rec, func(r *Record) { r.State = StateActive })
	metrics.ExtensionsTotal.WithLabelValues(StateActive.String()).Inc()
	l.logger.Info("extension active", "name", rec.Name, "duration", time.Since(start))
}

func (l *Loader) initBundle(ctx context.Context, rec *Record) error {
	// Manifest and path are fixed after discovery.
	m, bundle := rec.Manifest, rec.Path

	digest, err := bundleDigest(l.fs, bundle)
	if err != nil {
		return err
	}

	if m.Data.Table != "" {
		src, err := l.schemaSource(bundle, m)
		if err != nil {
			return err
		}
		err = l.schemas.Register(schema.TableSchema{
			Extension:   m.Name,
			Table:       m.Data.Table,
			JSONColumns: m.Data.JSONColumns,
			Source:      src,
		})
		if err != nil {
			return err
		}
	}

	cacheDir, err := l.cache.refresh(m.Name, bundle, digest)
	if err != nil {
		return err
	}

	readme, err := l.renderReadme(bundle)
	if err != nil {
		l.logger.Warn("failed to render readme", "name", m.Name, "error", err)
	}

	host := &Host{
		name:     m.Name,
		dir:      bundle,
		cacheDir: cacheDir,
		manifest: m,
		logger:   l.logger.With("extension", m.Name),
		store:    l.store,
		schemas:  l.schemas,
	}
	l.update(rec, func(r *Record) {
		r.Digest = digest
		r.ReadmeHTML = readme
		r.Host = host
	})

	if m.Entry == "" {
		return l.initDeclarative(ctx, host)
	}

	factory, ok := l.catalog.Lookup(m.Entry)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, m.Entry)
	}
	ext := factory()

	initCtx := ctx
	if l.initTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, l.initTimeout)
		defer cancel()
	}
	if err := runInit(initCtx, ext, host); err != nil {
		return fmt.Errorf("init %s: %w", m.Entry, err)
	}
	l.update(rec, func(r *Record) { r.Extension = ext })
	return nil
}

// runInit calls ext.Init on its own goroutine. A panic becomes ErrInitPanic;
// an Init still running when ctx ends is abandoned and ctx's error returned.
func runInit(ctx context.Context, ext Extension, host *Host) error {
	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrInitPanic, r)
			}
			done <- err
		}()
		err = ext.Init(ctx, host)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// initDeclarative materializes the table of a bundle that has no Go code.
// A bundle without a schema file has nothing to do.
func (l *Loader) initDeclarative(ctx context.Context, host *Host) error {
	ts, ok := l.schemas.Lookup(host.name)
	if !ok || ts.Source == nil {
		return nil
	}
	f, err := host.Data(ctx)
	if err != nil {
		return err
	}
	f.Close()
	return nil
}

// schemaSource reads the bundle's schema file, returning nil when it is absent.
func (l *Loader) schemaSource(bundle string, m *Manifest) (*store.SchemaSource, error) {
	path := filepath.Join(bundle, m.SchemaFile())
	data, err := afero.ReadFile(l.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		if m.Data.Schema != "" {
			return nil, fmt.Errorf("schema file %s: %w", m.Data.Schema, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	return &store.SchemaSource{Origin: path, SQL: string(data)}, nil
}

func (l *Loader) renderReadme(bundle string) (string, error) {
	src, err := afero.ReadFile(l.fs, filepath.Join(bundle, ReadmeFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := l.markdown.Convert(src, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (l *Loader) add(rec *Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *Loader) update(rec *Record, fn func(*Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(rec)
}

func (l *Loader) fail(rec *Record, err error) {
	l.update(rec, func(r *Record) {
		r.State = StateFailed
		r.Err = err
	})
	metrics.ExtensionsTotal.WithLabelValues(StateFailed.String()).Inc()
	l.logger.Error("extension failed", "name", rec.Name, "path", rec.Path, "error", err)
}

func (l *Loader) counts() (active, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		switch r.State {
		case StateActive:
			active++
		case StateFailed:
			failed++
		}
	}
	return active, failed
}

// Records returns copies of every record in discovery order.
func (l *Loader) Records() []Record {
	return l.filter(func(*Record) bool { return true })
}

// Active returns copies of the records that initialized successfully.
func (l *Loader) Active() []Record {
	return l.filter(func(r *Record) bool { return r.State == StateActive })
}

// Failed returns copies of the records that failed.
func (l *Loader) Failed() []Record {
	return l.filter(func(r *Record) bool { return r.State == StateFailed })
}

func (l *Loader) filter(keep func(*Record) bool) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for _, r := range l.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	return out
}

// Release hands the records' resources back to the caller: Active records
// become Finished and the loader forgets every record.
func (l *Loader) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	finished := 0
	for _, r := range l.records {
		if r.State == StateActive {
			r.State = StateFinished
			finished++
		}
	}
	metrics.ExtensionsTotal.WithLabelValues(StateFinished.String()).Add(float64(finished))
	l.records = nil
	l.logger.Debug("loader released", "finished", finished)
}
