// Package query runs one select off the caller's goroutine and streams the
// matching rows back over a channel.
//
// A Worker is created per select and never reused. Start returns at once;
// rows arrive on Rows() as the store reads them, with JSON columns already
// decoded. Rows() is closed after the last row, which is the end-of-stream
// signal; Wait and Err report how the scan ended.
//
//	w := query.New(st, query.Request{Table: "notes", JSONColumns: []string{"body"}}, logger)
//	w.Start(ctx)
//	for row := range w.Rows() {
//		...
//	}
//	if err := w.Wait(); err != nil {
//		...
//	}
//
// The consumer must drain Rows() or cancel ctx; the worker blocks on each
// send until the row is taken.
package query
