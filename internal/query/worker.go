// ABOUTME: Per-select worker that streams rows from the store on its own goroutine
// ABOUTME: The rows channel closes after the last row; there is no separate end event

package query

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/plugshell/internal/metrics"
	"github.com/2389/plugshell/internal/store"
)

// Selecter is the read side of the store used by workers.
type Selecter interface {
	Select(ctx context.Context, table string, where store.Where, args store.Args, fn func(store.Row) error) error
}

// Request describes one select.
type Request struct {
	Table       string
	Where       store.Where
	Args        store.Args
	JSONColumns []string
}

// Worker executes a single Request.
type Worker struct {
	src    Selecter
	req    Request
	logger *slog.Logger

	rows      chan store.Row
	done      chan struct{}
	startOnce sync.Once
	err       error // written before done is closed
}

// New creates a Worker for req. It does nothing until Start.
func New(src Selecter, req Request, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		src:    src,
		req:    req,
		logger: logger,
		rows:   make(chan store.Row),
		done:   make(chan struct{}),
	}
}

// Start launches the select. Calls after the first are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		metrics.QueryWorkersActive.Inc()
		go w.run(ctx)
	})
}

func (w *Worker) run(ctx context.Context) {
	defer metrics.QueryWorkersActive.Dec()
	defer close(w.done)
	defer close(w.rows)

	count := 0
	err := w.src.Select(ctx, w.req.Table, w.req.Where, w.req.Args, func(row store.Row) error {
		DecodeColumns(row, w.req.JSONColumns)
		select {
		case w.rows <- row:
			count++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	w.err = err

	if err != nil {
		w.logger.Debug("select ended with error", "table", w.req.Table, "rows", count, "error", err)
		return
	}
	w.logger.Debug("select finished", "table", w.req.Table, "rows", count)
}

// Rows returns the stream of matching rows. It is closed after the last row.
func (w *Worker) Rows() <-chan store.Row {
	return w.rows
}

// Done is closed once the worker's goroutine has ended.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker ends and returns its error.
// The worker must have been started and its rows drained.
func (w *Worker) Wait() error {
	<-w.done
	return w.err
}

// Err returns the scan error once the worker has ended, nil before.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}
