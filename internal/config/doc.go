// Package config handles configuration loading for plugshell.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Every setting has a default, so a file only needs the values it
// changes; a missing file means all defaults.
//
// # Configuration File
//
// Location:
//
//  1. Path from PLUGSHELL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/plugshell/config.yaml (~/.config when unset)
//
// `plugshell init` writes a default file there.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${PLUGSHELL_DB}"
//
// Paths starting with ~/ are resolved against the home directory.
//
// # Configuration Sections
//
//	app:
//	  name: "plugshell"
//	  organization: ""
//
//	database:
//	  path: "~/.local/share/plugshell/plugshell.db"
//	  driver: "sqlite"          # sqlite (pure Go) or sqlite3 (cgo)
//
//	plugins:
//	  dirs: ["~/.local/share/plugshell/plugins"]
//	  cache_dir: "~/.cache/plugshell/plugins"
//	  force_clear_cache: false  # purge the artifact cache before discovery
//	  concurrency: 4            # bundles initialized in parallel
//	  init_timeout: "30s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
