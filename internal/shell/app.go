// ABOUTME: Application shell: builds the store, registry and loader from config
// ABOUTME: Handles deferred loader release, extension teardown and the metrics endpoint

package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/2389/plugshell/internal/builtins"
	"github.com/2389/plugshell/internal/config"
	"github.com/2389/plugshell/internal/loader"
	"github.com/2389/plugshell/internal/schema"
	"github.com/2389/plugshell/internal/store"
)

// ErrNotStarted is returned by operations that need Start to have completed.
var ErrNotStarted = errors.New("shell not started")

// ErrExtensionNotFound indicates no active extension has the requested name.
var ErrExtensionNotFound = errors.New("extension not found")

// Option customizes an App.
type Option func(*App)

// WithFs makes the loader read bundles from fsys.
func WithFs(fsys afero.Fs) Option {
	return func(a *App) { a.fs = fsys }
}

// WithCatalog replaces the catalog of built-in extensions.
func WithCatalog(c *loader.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// App hosts the loaded extensions.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	fs      afero.Fs
	catalog *loader.Catalog
	store   *store.Store
	schemas *schema.Registry
	loader  *loader.Loader

	mu         sync.Mutex
	started    bool
	closed     bool
	records    []loader.Record
	metricsSrv *http.Server
}

// New builds an App from cfg. Nothing touches the disk until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:    cfg,
		logger: logger.With("component", "shell"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.catalog == nil {
		a.catalog = loader.NewCatalog()
		if err := builtins.RegisterAll(a.catalog); err != nil {
			return nil, fmt.Errorf("registering builtins: %w", err)
		}
	}

	a.store = store.New(store.Options{
		Path:   cfg.Database.Path,
		Driver: cfg.Database.Driver,
		Logger: logger,
	})
	a.schemas = schema.NewRegistry(logger)
	a.loader = loader.New(loader.Options{
		Fs:          a.fs,
		Dirs:        cfg.Plugins.Dirs,
		CacheDir:    cfg.Plugins.CacheDir,
		Concurrency: cfg.Plugins.Concurrency,
		InitTimeout: cfg.Plugins.InitTimeout,
		Store:       a.store,
		Schemas:     a.schemas,
		Catalog:     a.catalog,
		Logger:      logger,
	})
	a.loader.SetForceClearCache(cfg.Plugins.ForceClearCache)
	return a, nil
}

// Start loads every bundle and returns once the loader has finished and
// been released.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return loader.ErrAlreadyLoaded
	}
	a.started = true
	a.mu.Unlock()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- a.loader.LoadPlugins(ctx) }()

	var done *loader.Loader
	select {
	case done = <-a.loader.Finished():
	case err := <-errCh:
		if err != nil {
			return err
		}
		done = <-a.loader.Finished()
	case <-ctx.Done():
		return ctx.Err()
	}

	records := done.Records()
	done.Release()

	a.mu.Lock()
	a.records = records
	a.mu.Unlock()

	active, failed := 0, 0
	for _, r := range records {
		if r.State == loader.StateFailed {
			failed++
		} else {
			active++
		}
	}
	a.logger.Info("extensions ready",
		"active", active,
		"failed", failed,
		"duration", time.Since(start),
	)
	return nil
}

// Extensions returns every record observed by the loader, failed ones included.
func (a *App) Extensions() []loader.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]loader.Record(nil), a.records...)
}

// Extension returns the record of the named bundle.
func (a *App) Extension(name string) (loader.Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if r.Name == name {
			return r, true
		}
	}
	return loader.Record{}, false
}

// Schemas returns the table declarations of the loaded bundles.
func (a *App) Schemas() []schema.TableSchema {
	return a.schemas.List()
}

// TableRows counts the rows of a materialized extension table.
func (a *App) TableRows(ctx context.Context, table string) (int, error) {
	return a.store.Count(ctx, table)
}

// Invoke runs an action of an initialized extension.
func (a *App) Invoke(ctx context.Context, name, action string, input []byte) ([]byte, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	r, ok := a.Extension(name)
	if !ok || r.Extension == nil || r.State == loader.StateFailed {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	return builtins.Invoke(ctx, r.Extension, action, input)
}

// ServeMetrics starts the Prometheus endpoint when metrics are enabled and
// returns the address it listens on.
func (a *App) ServeMetrics() (string, error) {
	if !a.cfg.Metrics.Enabled {
		return "", nil
	}

	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return "", fmt.Errorf("listening for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.mu.Lock()
	a.metricsSrv = srv
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String(), "path", a.cfg.Metrics.Path)
	return ln.Addr().String(), nil
}

// Run starts the shell, serves metrics and blocks until ctx is done, then
// shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	if _, err := a.ServeMetrics(); err != nil {
		a.gracefulClose()
		return err
	}

	<-ctx.Done()
	return a.gracefulClose()
}

// gracefulClose uses a fresh context since the run context is already canceled.
func (a *App) gracefulClose() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.Close(ctx)
}

// Close stops every extension and closes the store. It is safe to call more
// than once.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	records := a.records
	srv := a.metricsSrv
	a.mu.Unlock()

	a.logger.Info("shutting down")

	var errs []error
	for _, r := range records {
		if stopper, ok := r.Extension.(loader.Stopper); ok {
			errs = appendCloseError(errs, "stop "+r.Name, stopper.Stop(ctx))
		}
		if r.Host != nil {
			r.Host.Close()
		}
	}
	if srv != nil {
		errs = appendCloseError(errs, "metrics shutdown", srv.Shutdown(ctx))
	}
	if a.store.Opened() {
		a.logger.Debug("closing database", "path", a.store.Path())
	}
	errs = appendCloseError(errs, "store close", a.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func appendCloseError(errs []error, what string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", what, err))
	}
	return errs
}
