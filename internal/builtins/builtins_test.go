// ABOUTME: Shared helpers for built-in extension tests
// ABOUTME: Loads the shipped bundles from memory against a real SQLite store

package builtins

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/2389/plugshell/internal/loader"
	"github.com/2389/plugshell/internal/store"
)

// loadBuiltins runs the loader over the shipped bundles and returns the
// initialized extensions by name.
func loadBuiltins(t *testing.T) map[string]loader.Extension {
	t.Helper()

	fsys := afero.NewMemMapFs()
	for _, b := range Bundles() {
		for name, content := range b.Files {
			path := filepath.Join("/plugins", b.Name, name)
			if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
				t.Fatalf("writing %s: %v", path, err)
			}
		}
	}

	st := store.New(store.Options{Path: filepath.Join(t.TempDir(), "plugshell.db")})
	t.Cleanup(func() { st.Close() })

	catalog := loader.NewCatalog()
	if err := RegisterAll(catalog); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	l := loader.New(loader.Options{
		Fs:      fsys,
		Dirs:    []string{"/plugins"},
		Store:   st,
		Catalog: catalog,
	})
	if err := l.LoadPlugins(context.Background()); err != nil {
		t.Fatalf("LoadPlugins: %v", err)
	}
	for _, r := range l.Failed() {
		t.Fatalf("bundle %s failed: %v", r.Name, r.Err)
	}

	exts := make(map[string]loader.Extension)
	for _, r := range l.Active() {
		exts[r.Name] = r.Extension
	}
	return exts
}

func call(t *testing.T, ext loader.Extension, action, input string) map[string]any {
	t.Helper()

	out, err := Invoke(context.Background(), ext, action, json.RawMessage(input))
	if err != nil {
		t.Fatalf("%s: %v", action, err)
	}
	var resp map[string]any
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal %s result: %v", action, err)
	}
	return resp
}

func TestRegisterAll_Duplicate(t *testing.T) {
	catalog := loader.NewCatalog()
	if err := RegisterAll(catalog); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if err := RegisterAll(catalog); err == nil {
		t.Error("expected second RegisterAll to fail")
	}
}

func TestBundles_ManifestsParse(t *testing.T) {
	for _, b := range Bundles() {
		m, unknown, err := loader.ParseManifest([]byte(b.Files[loader.ManifestFile]), b.Name)
		if err != nil {
			t.Fatalf("%s manifest: %v", b.Name, err)
		}
		if len(unknown) > 0 {
			t.Errorf("%s manifest has unknown keys %v", b.Name, unknown)
		}
		if m.Entry != b.Name {
			t.Errorf("%s manifest entry = %q", b.Name, m.Entry)
		}
	}
}

func TestInvoke_UnknownAction(t *testing.T) {
	exts := loadBuiltins(t)

	_, err := Invoke(context.Background(), exts[NotesEntry], "note_fly", nil)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}
