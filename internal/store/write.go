// ABOUTME: Serialized table writes: insert, update and delete
// ABOUTME: Every write holds the store-wide write mutex for its whole duration

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/plugshell/internal/metrics"
)

// writable resolves the open pool and the table description for a write.
func (s *Store) writable(ctx context.Context, table string) (*sql.DB, *TableInfo, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, nil, err
	}
	db, err := s.conn(ctx, false)
	if errors.Is(err, errNoDatabase) {
		return nil, nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return nil, nil, err
	}
	info, err := tableInfo(ctx, db, table)
	if err != nil {
		return nil, nil, err
	}
	return db, info, nil
}

// Insert adds a row and returns its primary key. Keys that are not columns
// are dropped; a row with no known keys inserts the column defaults.
func (s *Store) Insert(ctx context.Context, table string, row Row) (int64, error) {
	db, info, err := s.writable(ctx, table)
	if err != nil {
		return 0, err
	}

	cols, vals := filterRow(info, row)
	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(table))
	} else {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdent(c)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(table),
			strings.Join(quoted, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := db.ExecContext(ctx, query, vals...)
	if err != nil {
		metrics.StoreWriteErrorsTotal.WithLabelValues("insert").Inc()
		return 0, fmt.Errorf("inserting into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	metrics.StoreWritesTotal.WithLabelValues("insert").Inc()
	return id, nil
}

// Update sets the known columns of row on every row matching where and
// returns the number of rows changed. A row with no known keys is a no-op.
// A where whose keys are all unknown matches nothing.
func (s *Store) Update(ctx context.Context, table string, row Row, where Where) (int64, error) {
	db, info, err := s.writable(ctx, table)
	if err != nil {
		return 0, err
	}

	cols, vals := filterRow(info, row)
	if len(cols) == 0 {
		return 0, nil
	}
	clause, params, matched := buildWhere(info, where, nil)
	if !matched {
		return 0, nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s", quoteIdent(table), strings.Join(sets, ", "))
	if clause != "" {
		query += " WHERE " + clause
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := db.ExecContext(ctx, query, append(vals, params...)...)
	if err != nil {
		metrics.StoreWriteErrorsTotal.WithLabelValues("update").Inc()
		return 0, fmt.Errorf("updating %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	metrics.StoreWritesTotal.WithLabelValues("update").Inc()
	return n, nil
}

// Delete removes every row matching where and returns the primary keys of
// the removed rows. A where whose keys are all unknown matches nothing.
func (s *Store) Delete(ctx context.Context, table string, where Where) ([]int64, error) {
	db, info, err := s.writable(ctx, table)
	if err != nil {
		return nil, err
	}

	clause, params, matched := buildWhere(info, where, nil)
	if !matched {
		return nil, nil
	}
	selectQuery := fmt.Sprintf("SELECT %s FROM %s", quoteIdent(info.PrimaryKey), quoteIdent(table))
	deleteQuery := fmt.Sprintf("DELETE FROM %s", quoteIdent(table))
	if clause != "" {
		selectQuery += " WHERE " + clause
		deleteQuery += " WHERE " + clause
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	ids, err := scanIDs(ctx, tx, selectQuery, params)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, params...); err != nil {
		metrics.StoreWriteErrorsTotal.WithLabelValues("delete").Inc()
		return nil, fmt.Errorf("deleting from %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}
	metrics.StoreWritesTotal.WithLabelValues("delete").Inc()
	return ids, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanIDs(ctx context.Context, q queryer, query string, params []any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("reading ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id sql.NullInt64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		if id.Valid {
			ids = append(ids, id.Int64)
		}
	}
	return ids, rows.Err()
}
