// ABOUTME: JSON actions exposed by built-in extensions and the catalog wiring
// ABOUTME: Bundles() returns the files that declare each built-in extension

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/plugshell/internal/loader"
)

// ErrUnknownAction indicates an action name the extension does not expose.
var ErrUnknownAction = errors.New("unknown action")

// ErrNotFound indicates no row matched the requested id.
var ErrNotFound = errors.New("not found")

// ActionHandler executes one action. Input and output are JSON.
type ActionHandler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Action is a named operation of an extension.
type Action struct {
	Name            string
	Description     string
	InputSchemaJSON string
	Handler         ActionHandler
}

// Actioner is implemented by extensions that expose actions.
type Actioner interface {
	Actions() []Action
}

// Invoke runs the named action of ext.
func Invoke(ctx context.Context, ext loader.Extension, name string, input json.RawMessage) (json.RawMessage, error) {
	a, ok := ext.(Actioner)
	if !ok {
		return nil, fmt.Errorf("%w: extension exposes no actions", ErrUnknownAction)
	}
	for _, action := range a.Actions() {
		if action.Name == name {
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			return action.Handler(ctx, input)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
}

// RegisterAll adds every built-in extension to catalog.
func RegisterAll(catalog *loader.Catalog) error {
	if err := catalog.Register(NotesEntry, func() loader.Extension { return &Notes{} }); err != nil {
		return err
	}
	return catalog.Register(TodosEntry, func() loader.Extension { return &Todos{} })
}

// Bundle is the on-disk declaration of a built-in extension.
type Bundle struct {
	Name string
	// Files maps paths relative to the bundle directory to their contents.
	Files map[string]string
}

// Bundles returns the bundles that run the built-in extensions.
func Bundles() []Bundle {
	return []Bundle{
		{
			Name: NotesEntry,
			Files: map[string]string{
				loader.ManifestFile:      notesManifest,
				loader.DefaultSchemaFile: notesSchema,
				loader.ReadmeFile:        notesReadme,
			},
		},
		{
			Name: TodosEntry,
			Files: map[string]string{
				loader.ManifestFile:      todosManifest,
				loader.DefaultSchemaFile: todosSchema,
			},
		},
	}
}

func decodeInput(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
