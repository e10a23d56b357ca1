// ABOUTME: Store type, options and lazy connection management for the shared SQLite database
// ABOUTME: The database file is only created once a table is materialized from a schema source

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// ErrTableNotFound is returned when an operation targets a table that was never materialized.
var ErrTableNotFound = errors.New("table not found")

// ErrSchemaMismatch is returned when a schema source executes but does not create the named table.
var ErrSchemaMismatch = errors.New("schema source did not create table")

// ErrInvalidTable is returned for table names that are not plain SQL identifiers.
var ErrInvalidTable = errors.New("invalid table name")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store closed")

// errNoDatabase means the database file does not exist and the caller did not ask to create it.
var errNoDatabase = errors.New("database not created")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row maps column names to values.
type Row map[string]any

// Options configures a Store.
type Options struct {
	// Path is the database file. Parent directories are created on first materialization.
	Path string
	// Driver is DriverModernc (default) or DriverMattn.
	Driver string
	Logger *slog.Logger
}

// Store is the process-wide handle to the embedded database.
type Store struct {
	path   string
	driver string
	logger *slog.Logger

	openMu sync.Mutex // protects db and closed
	db     *sql.DB
	closed bool

	// writeMu serializes every mutation, table creation included.
	writeMu sync.Mutex
}

// New creates a Store. It does not open the database.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	driver := opts.Driver
	if driver == "" {
		driver = DriverModernc
	}
	return &Store{
		path:   opts.Path,
		driver: driver,
		logger: logger.With("component", "store"),
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Opened reports whether the database connection has been established.
func (s *Store) Opened() bool {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	return s.db != nil
}

// ValidateTableName checks that name can be used unquoted-safe as a table identifier.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}

// conn returns the open pool, opening it if needed. When create is false and
// the database file does not exist yet, errNoDatabase is returned instead of
// creating an empty file.
func (s *Store) conn(ctx context.Context, create bool) (*sql.DB, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	if !create {
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			return nil, errNoDatabase
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn, err := buildDSN(s.driver, s.path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s.db = db
	s.logger.Info("database opened", "path", s.path, "driver", s.driver)
	return db, nil
}

// Close releases the connection pool. It is safe to call multiple times.
func (s *Store) Close() error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// quoteIdent quotes an identifier for SQLite.
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
