// ABOUTME: Streaming reads and full-scan helpers
// ABOUTME: Select hands each row to a callback as soon as it is scanned

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/plugshell/internal/metrics"
)

func (s *Store) readable(ctx context.Context, table string) (*sql.DB, *TableInfo, error) {
	// Reads resolve the table the same way writes do but never take writeMu.
	return s.writable(ctx, table)
}

// Select streams the rows of table matching where to fn, in the store's
// natural order unless args.Order names a column. Returning an error from fn
// stops the scan and that error is returned.
func (s *Store) Select(ctx context.Context, table string, where Where, args Args, fn func(Row) error) error {
	db, info, err := s.readable(ctx, table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(table))
	clause, params, _ := buildWhere(info, where, args.Operators)
	if clause != "" {
		query += " WHERE " + clause
	}
	mods, modParams := buildModifiers(info, args)
	query += mods
	params = append(params, modParams...)

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("selecting from %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("reading column types: %w", err)
	}
	cols := make([]string, len(types))
	blob := make([]bool, len(types))
	for i, ct := range types {
		cols[i] = ct.Name()
		blob[i] = strings.EqualFold(ct.DatabaseTypeName(), "BLOB")
	}

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning row of %s: %w", table, err)
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			// Some drivers hand TEXT back as []byte.
			if b, ok := vals[i].([]byte); ok && !blob[i] {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		metrics.RowsStreamedTotal.Inc()
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	db, _, err := s.readable(ctx, table)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// IDs returns every primary key in table.
func (s *Store) IDs(ctx context.Context, table string) ([]int64, error) {
	db, info, err := s.readable(ctx, table)
	if err != nil {
		return nil, err
	}
	return scanIDs(ctx, db, fmt.Sprintf("SELECT %s FROM %s", quoteIdent(info.PrimaryKey), quoteIdent(table)), nil)
}

// IsNotFound reports whether err means the table was never materialized.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound)
}
