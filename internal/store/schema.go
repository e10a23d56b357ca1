// ABOUTME: Table materialization and column introspection
// ABOUTME: EnsureTable runs a schema source at most once; TableInfo reads pragma_table_info

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SchemaSource is the DDL an extension ships to create its table.
type SchemaSource struct {
	// Origin names where the SQL came from, for logs (usually a file path).
	Origin string
	SQL    string
}

// TableInfo describes a materialized table.
type TableInfo struct {
	Name    string
	Columns []string
	// PrimaryKey is the single INTEGER PRIMARY KEY column, or "rowid" when the
	// table has none.
	PrimaryKey string
}

// HasColumn reports whether col is a column of the table.
func (t *TableInfo) HasColumn(col string) bool {
	if col == t.PrimaryKey {
		return true
	}
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// EnsureTable makes sure the table exists. If it is missing and src is
// non-nil, src.SQL is executed under the write lock. If it is missing and src
// is nil, ErrTableNotFound is returned and no database file is created.
func (s *Store) EnsureTable(ctx context.Context, name string, src *SchemaSource) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}

	db, err := s.conn(ctx, src != nil)
	if errors.Is(err, errNoDatabase) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return err
	}

	exists, err := tableExists(ctx, db, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if src == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Another facade may have created it while we waited for the lock.
	exists, err = tableExists(ctx, db, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := db.ExecContext(ctx, src.SQL); err != nil {
		return fmt.Errorf("executing schema %s: %w", src.Origin, err)
	}

	exists, err = tableExists(ctx, db, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s (from %s)", ErrSchemaMismatch, name, src.Origin)
	}

	s.logger.Info("table materialized", "table", name, "origin", src.Origin)
	return nil
}

// TableInfo returns the ordered columns and primary key of an existing table.
func (s *Store) TableInfo(ctx context.Context, name string) (*TableInfo, error) {
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	db, err := s.conn(ctx, false)
	if errors.Is(err, errNoDatabase) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return tableInfo(ctx, db, name)
}

// TableColumns returns the ordered column names of an existing table.
func (s *Store) TableColumns(ctx context.Context, name string) ([]string, error) {
	info, err := s.TableInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	return info.Columns, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return true, nil
}

func tableInfo(ctx context.Context, db *sql.DB, name string) (*TableInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, pk FROM pragma_table_info(?) ORDER BY cid`, name)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	defer rows.Close()

	info := &TableInfo{Name: name}
	var pkCols []string
	var pkType string
	for rows.Next() {
		var col, typ string
		var pk int
		if err := rows.Scan(&col, &typ, &pk); err != nil {
			return nil, fmt.Errorf("scanning column of %s: %w", name, err)
		}
		info.Columns = append(info.Columns, col)
		if pk > 0 {
			pkCols = append(pkCols, col)
			pkType = typ
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	info.PrimaryKey = "rowid"
	if len(pkCols) == 1 && strings.EqualFold(pkType, "INTEGER") {
		info.PrimaryKey = pkCols[0]
	}
	return info, nil
}
