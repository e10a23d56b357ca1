// Package shell wires configuration, the store, the schema registry and the
// extension loader into a running application.
//
// Start loads every bundle, waits for the loader's finished signal, keeps a
// snapshot of the records and releases the loader. Close stops the
// extensions that implement loader.Stopper, makes their facades inert and
// closes the store. Run does both around a context, serving Prometheus
// metrics in between when they are enabled.
package shell
