// ABOUTME: Tests for plugin.toml parsing and validation

package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		dir     string
		want    *Manifest
		unknown []string
		wantErr error
	}{
		{
			name: "full manifest",
			toml: `
name = "notes"
version = "1.2.0"
entry = "notes"
description = "Keeps notes"

[data]
table = "notes"
json_columns = ["body"]
schema = "sql/notes.sql"
`,
			dir: "notes-bundle",
			want: &Manifest{
				Name:        "notes",
				Version:     "1.2.0",
				Entry:       "notes",
				Description: "Keeps notes",
				Data: DataSection{
					Table:       "notes",
					JSONColumns: []string{"body"},
					Schema:      "sql/notes.sql",
				},
			},
		},
		{
			name: "name defaults to directory",
			toml: `version = "0.1.0"`,
			dir:  "Weather",
			want: &Manifest{Name: "weather", Version: "0.1.0"},
		},
		{
			name:    "unknown keys reported",
			toml:    "name = \"x\"\nicon = \"x.png\"\n",
			dir:     "x",
			want:    &Manifest{Name: "x"},
			unknown: []string{"icon"},
		},
		{
			name:    "bad name",
			toml:    `name = "Has Spaces"`,
			dir:     "x",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "bad table",
			toml:    "name = \"x\"\n[data]\ntable = \"drop table\"\n",
			dir:     "x",
			wantErr: ErrInvalidManifest,
		},
		{
			name:    "schema outside bundle",
			toml:    "name = \"x\"\n[data]\ntable = \"x\"\nschema = \"../other/x.sql\"\n",
			dir:     "x",
			wantErr: ErrInvalidManifest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unknown, err := ParseManifest([]byte(tt.toml), tt.dir)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unknown, unknown)
		})
	}
}

func TestParseManifest_Malformed(t *testing.T) {
	_, _, err := ParseManifest([]byte(`name = "unterminated`), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidManifest)
}

func TestManifest_SchemaFile(t *testing.T) {
	m := &Manifest{Name: "x"}
	assert.Equal(t, DefaultSchemaFile, m.SchemaFile())

	m.Data.Schema = "./sql//x.sql"
	assert.Equal(t, "sql/x.sql", m.SchemaFile())
}
