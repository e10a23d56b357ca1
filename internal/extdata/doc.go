// Package extdata is the per-table data facade extensions use instead of
// talking to the store directly.
//
// # Overview
//
// A Facade is bound to one table. Setting the table name loads it: the
// table is materialized from the schema source declared in the schema
// registry (if any), its columns are introspected, and a full scan fills the
// row count and the identifier cache.
//
//	f := extdata.New(st, schemas, logger)
//	f.SetJSONColumns([]string{"body"})
//	if err := f.SetTableName(ctx, "notes"); err != nil {
//		// store.ErrTableNotFound: the extension has no table
//	}
//
// # Writes
//
// Insert, Update and Remove are synchronous. Payload keys that are not
// columns are dropped, and structured values in JSON columns are encoded to
// compact JSON text before they reach the store. Insert records the new id in
// the identifier cache so ContainsID can be used to skip duplicates; Remove
// forgets the ids it deleted.
//
// # Reads
//
// Select returns immediately. A query worker scans the table on its own
// goroutine and every row is handed to the OnItemLoaded handlers, with JSON
// columns decoded. Handlers may run concurrently when several selects are in
// flight. After Close no further rows are dispatched.
package extdata
