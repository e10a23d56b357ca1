// ABOUTME: plugin.toml parsing and validation
// ABOUTME: Names default to the bundle directory; schema paths must stay inside the bundle

package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/plugshell/internal/store"
)

// Bundle file names.
const (
	ManifestFile      = "plugin.toml"
	DefaultSchemaFile = "plugin_table.sql"
	ReadmeFile        = "README.md"
	AssetsDir         = "assets"
)

// ErrInvalidManifest indicates a manifest that parsed but cannot be used.
var ErrInvalidManifest = errors.New("invalid manifest")

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Manifest is the parsed plugin.toml of a bundle.
type Manifest struct {
	Name        string      `toml:"name"`
	Version     string      `toml:"version"`
	Entry       string      `toml:"entry"`
	Description string      `toml:"description"`
	Data        DataSection `toml:"data"`
}

// DataSection declares the bundle's table.
type DataSection struct {
	Table       string   `toml:"table"`
	JSONColumns []string `toml:"json_columns"`
	// Schema is the schema file relative to the bundle; defaults to
	// plugin_table.sql.
	Schema string `toml:"schema"`
}

// ParseManifest decodes and validates a manifest. dirName is used when the
// manifest does not name the bundle.
func ParseManifest(data []byte, dirName string) (*Manifest, []string, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}

	if m.Name == "" {
		m.Name = strings.ToLower(dirName)
	}
	if err := m.Validate(); err != nil {
		return nil, unknown, err
	}
	return &m, unknown, nil
}

// Validate checks the manifest for problems that would make it unusable.
func (m *Manifest) Validate() error {
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidManifest, m.Name)
	}
	if m.Data.Table != "" {
		if err := store.ValidateTableName(m.Data.Table); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
	}
	if m.Data.Schema != "" {
		clean := filepath.Clean(m.Data.Schema)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: schema %q is outside the bundle", ErrInvalidManifest, m.Data.Schema)
		}
	}
	return nil
}

// SchemaFile returns the schema file name relative to the bundle.
func (m *Manifest) SchemaFile() string {
	if m.Data.Schema != "" {
		return filepath.Clean(m.Data.Schema)
	}
	return DefaultSchemaFile
}
