// Package builtins provides the Go extensions that ship with plugshell.
//
// # Overview
//
// A bundle whose manifest names one of these entries runs the matching
// extension. Each extension keeps its data in the bundle's table through an
// extdata.Facade and exposes a set of actions: named handlers that take and
// return JSON, so the CLI (or any other caller) can drive them without
// knowing their Go types.
//
// # Extensions
//
// notes - free-form notes with JSON bodies and tags:
//
//   - note_add: Store a note
//   - note_get: Retrieve a note by id
//   - note_list: List notes (limit, offset, order, tag)
//   - note_update: Change fields of a note
//   - note_delete: Delete a note
//
// todos - a task list:
//
//   - todo_add: Create a todo
//   - todo_list: List todos (filter by status/priority)
//   - todo_update: Update a todo's status, priority, or notes
//   - todo_delete: Delete a todo
//
// # Usage
//
// Register the extensions with the loader's catalog:
//
//	catalog := loader.NewCatalog()
//	builtins.RegisterAll(catalog)
//
// Scaffold their bundles into a plugin directory:
//
//	for _, b := range builtins.Bundles() {
//		// write b.Files under dir/b.Name
//	}
package builtins
