// ABOUTME: Non-blocking selects relayed from query workers to item-loaded handlers
// ABOUTME: Collect is the synchronous variant used when a caller needs the rows itself

package extdata

import (
	"context"

	"github.com/2389/plugshell/internal/query"
	"github.com/2389/plugshell/internal/store"
)

// Selection tracks one in-flight Select.
type Selection struct {
	worker  *query.Worker
	relayed chan struct{}
}

// Done is closed after the last row has been handed to the handlers.
func (s *Selection) Done() <-chan struct{} {
	return s.relayed
}

// Wait blocks until every row has been dispatched and returns the scan error.
// A table that was never materialized yields store.ErrTableNotFound and no rows.
func (s *Selection) Wait() error {
	<-s.relayed
	return s.worker.Wait()
}

func (f *Facade) request(where store.Where, args store.Args) query.Request {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return query.Request{
		Table:       f.table,
		Where:       where,
		Args:        args,
		JSONColumns: append([]string(nil), f.jsonColumns...),
	}
}

// Select starts a worker for the rows matching where and returns at once.
// Each row is passed to the OnItemLoaded handlers.
func (f *Facade) Select(ctx context.Context, where store.Where, args store.Args) *Selection {
	req := f.request(where, args)
	w := query.New(f.store, req, f.logger)
	sel := &Selection{worker: w, relayed: make(chan struct{})}

	w.Start(ctx)
	go f.relay(sel)
	return sel
}

// relay drains the worker even after Close so it can run to completion.
func (f *Facade) relay(sel *Selection) {
	defer close(sel.relayed)

	for row := range sel.worker.Rows() {
		if f.closed.Load() {
			continue
		}
		f.mu.RLock()
		handlers := f.handlers
		f.mu.RUnlock()
		for _, h := range handlers {
			h(row)
		}
	}
}

// Collect runs a select and returns every matching row, bypassing handlers.
func (f *Facade) Collect(ctx context.Context, where store.Where, args store.Args) ([]store.Row, error) {
	w := query.New(f.store, f.request(where, args), f.logger)
	w.Start(ctx)

	var rows []store.Row
	for row := range w.Rows() {
		rows = append(rows, row)
	}
	return rows, w.Wait()
}
