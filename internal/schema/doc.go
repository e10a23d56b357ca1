// Package schema tracks the table each extension declares.
//
// # Overview
//
// An extension descriptor may declare one table: its name, the columns whose
// values are JSON text, and an optional schema source (the DDL shipped in the
// bundle). The Registry maps the extension identifier to that declaration and
// records whether the table has been materialized in the store.
//
// The schema source is optional by design: a declaration without one never
// creates anything, and operations on its table fail with
// store.ErrTableNotFound until some other party materializes it.
//
// # Usage
//
//	reg := schema.NewRegistry(logger)
//	err := reg.Register(schema.TableSchema{
//		Extension:   "notes",
//		Table:       "notes",
//		JSONColumns: []string{"body"},
//		Source:      &store.SchemaSource{Origin: path, SQL: ddl},
//	})
//
// Facades look declarations up by table name:
//
//	ts, ok := reg.LookupTable("notes")
package schema
