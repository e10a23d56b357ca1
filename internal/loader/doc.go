// Package loader discovers extension bundles, initializes them and reports
// when every one of them has completed.
//
// # Bundles
//
// A bundle is a directory under one of the configured plugin directories
// that contains a plugin.toml manifest:
//
//	plugins/
//	  notes/
//	    plugin.toml        name, version, entry, [data] table/json_columns/schema
//	    plugin_table.sql   optional; its presence materializes the table
//	    README.md          optional; rendered to HTML
//	    assets/            optional; extracted into the artifact cache
//
// Directories without a manifest are skipped. A manifest that cannot be
// parsed produces a Failed record; discovery continues with the next bundle.
//
// # Lifecycle
//
// Every discovered bundle gets a Record that moves through
//
//	Discovered -> Initializing -> Active | Failed
//
// and, once the owner calls Release, Active -> Finished. Initialization runs
// on a bounded number of goroutines. When the last bundle has completed the
// loader sends itself on Finished exactly once.
//
// # Extensions
//
// A manifest's entry names a Go extension registered in a Catalog. The
// extension is built from its Factory and handed a Host, through which it
// can reach its own table with Host.Data. Bundles without an entry are
// declarative: their table is materialized and nothing else runs.
//
// # Artifact cache
//
// Each bundle has a cache entry under the cache directory, stamped with a
// blake2b digest of the bundle's files. A stale or missing stamp purges the
// entry and re-extracts the bundle's assets. SetForceClearCache removes the
// whole cache before discovery.
package loader
