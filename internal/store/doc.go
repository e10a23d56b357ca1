// Package store provides the shared embedded SQLite database used by extensions.
//
// # Architecture
//
// A single Store is created by the shell at startup and handed to every
// extension data facade. It owns one database/sql pool and never exposes it:
// extensions talk to their own table through the facade in internal/extdata,
// which in turn calls the Store's table-scoped operations.
//
// # Conditional materialization
//
// The database file is opened lazily. Nothing touches the disk until a table
// is materialized from a SchemaSource:
//
//	err := st.EnsureTable(ctx, "notes", &store.SchemaSource{Origin: "plugin_table.sql", SQL: ddl})
//
// EnsureTable is idempotent. Calling it with a nil source for a table that
// does not exist returns ErrTableNotFound and leaves the disk untouched, so a
// process running only extensions without persistence never creates a file.
//
// # Writes and reads
//
// Insert, Update and Delete hold a store-wide write mutex: at most one write
// is in flight across all extensions. Select streams rows to a callback as
// they are read and never takes the write mutex. The database runs in WAL
// mode so readers and the single writer do not block each other.
//
// # Filtering
//
// Row keys and Where keys that are not columns of the table are dropped
// before SQL is built. Args carries the query modifiers (limit, offset,
// order, per-column comparison operators); ParseArgs builds one from a loose
// map and ignores keys it does not know.
//
// # Drivers
//
//   - sqlite: modernc.org/sqlite, pure Go (default)
//   - sqlite3: github.com/mattn/go-sqlite3, requires cgo
//
// # Error Handling
//
//   - ErrTableNotFound: the table was never materialized
//   - ErrSchemaMismatch: a schema source ran but did not create the table
//   - ErrInvalidTable: the table name is not a plain identifier
//   - ErrClosed: the store was closed
//
// Failures to open the database are returned wrapped; the next call retries.
package store
