// ABOUTME: Notes extension: free-form notes with JSON bodies and tags
// ABOUTME: Backed by the bundle's notes table through a data facade

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/plugshell/internal/extdata"
	"github.com/2389/plugshell/internal/loader"
	"github.com/2389/plugshell/internal/store"
)

// NotesEntry is the manifest entry name of the notes extension.
const NotesEntry = "notes"

const notesManifest = `name = "notes"
version = "1.0.0"
entry = "notes"
description = "Free-form notes with structured bodies and tags"

[data]
table = "notes"
json_columns = ["body", "tags"]
`

const notesSchema = `CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	body TEXT,
	tags TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
`

const notesReadme = `# Notes

Keeps free-form notes. The ` + "`body`" + ` of a note may be any JSON value and
` + "`tags`" + ` is a list of strings.
`

// Notes stores notes in the bundle's table.
type Notes struct {
	data *extdata.Facade
}

// Init binds the extension to its table.
func (n *Notes) Init(ctx context.Context, host *loader.Host) error {
	f, err := host.Data(ctx)
	if err != nil {
		return err
	}
	n.data = f
	host.Logger().Debug("notes ready", "count", f.TotalItems())
	return nil
}

// Stop releases the facade.
func (n *Notes) Stop(context.Context) error {
	if n.data != nil {
		n.data.Close()
	}
	return nil
}

// Actions lists the note actions.
func (n *Notes) Actions() []Action {
	return []Action{
		{
			Name:            "note_add",
			Description:     "Store a note",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"},"title":{"type":"string"},"body":{},"tags":{"type":"array","items":{"type":"string"}}},"required":["title"]}`,
			Handler:         n.Add,
		},
		{
			Name:            "note_get",
			Description:     "Retrieve a note by id",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`,
			Handler:         n.Get,
		},
		{
			Name:            "note_list",
			Description:     "List notes",
			InputSchemaJSON: `{"type":"object","properties":{"limit":{"type":"integer"},"offset":{"type":"integer"},"order":{"type":"string"},"tag":{"type":"string"}}}`,
			Handler:         n.List,
		},
		{
			Name:            "note_update",
			Description:     "Change fields of a note",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"},"title":{"type":"string"},"body":{},"tags":{"type":"array","items":{"type":"string"}}},"required":["id"]}`,
			Handler:         n.Update,
		},
		{
			Name:            "note_delete",
			Description:     "Delete a note",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`,
			Handler:         n.Delete,
		},
	}
}

type noteAddInput struct {
	// ID is an optional client-chosen key; adding it twice stores one note.
	ID    int64    `json:"id"`
	Title string   `json:"title"`
	Body  any      `json:"body"`
	Tags  []string `json:"tags"`
}

func (n *Notes) Add(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in noteAddInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, errors.New("title is required")
	}

	row := store.Row{"title": in.Title, "body": in.Body}
	if in.Tags != nil {
		row["tags"] = in.Tags
	}
	if in.ID > 0 {
		row["id"] = in.ID
	}
	id, inserted, err := n.data.InsertIfAbsent(ctx, row)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return json.Marshal(map[string]any{"id": id, "status": "exists"})
	}
	return json.Marshal(map[string]any{"id": id, "status": "saved"})
}

type idInput struct {
	ID int64 `json:"id"`
}

func (n *Notes) Get(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in idInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	row, err := getByID(ctx, n.data, in.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"note": row})
}

func (n *Notes) List(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in map[string]any
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	args := store.ParseArgs(in)
	if args.Order == "" {
		args.Order = "id"
	}
	where := store.Where{}
	if tag, ok := in["tag"].(string); ok && tag != "" {
		// tags is stored as a JSON array; match the quoted element.
		quoted, _ := json.Marshal(tag)
		where["tags"] = "%" + string(quoted) + "%"
		if args.Operators == nil {
			args.Operators = map[string]store.Operator{}
		}
		args.Operators["tags"] = store.OpLike
	}

	rows, err := n.data.Collect(ctx, where, args)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []store.Row{}
	}
	return json.Marshal(map[string]any{"notes": rows, "count": len(rows), "total": n.data.TotalItems()})
}

func (n *Notes) Update(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	id, fields, err := splitID(input)
	if err != nil {
		return nil, err
	}
	delete(fields, "created_at")
	if !n.data.ContainsID(id) {
		return nil, fmt.Errorf("note %d: %w", id, ErrNotFound)
	}

	changed, err := n.data.Update(ctx, fields, store.Where{"id": id})
	if err != nil {
		return nil, err
	}
	if changed == 0 {
		return json.Marshal(map[string]any{"id": id, "status": "unchanged"})
	}
	return json.Marshal(map[string]any{"id": id, "status": "updated"})
}

func (n *Notes) Delete(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in idInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	removed, err := n.data.Remove(ctx, store.Where{"id": in.ID})
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, fmt.Errorf("note %d: %w", in.ID, ErrNotFound)
	}
	return json.Marshal(map[string]any{"id": in.ID, "status": "deleted"})
}

// getByID returns the row with primary key id.
func getByID(ctx context.Context, f *extdata.Facade, id int64) (store.Row, error) {
	if !f.ContainsID(id) {
		return nil, fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	rows, err := f.Collect(ctx, store.Where{"id": id}, store.Args{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

// splitID separates the required id from the fields to change.
func splitID(input json.RawMessage) (int64, store.Row, error) {
	var in idInput
	if err := decodeInput(input, &in); err != nil {
		return 0, nil, err
	}
	if in.ID <= 0 {
		return 0, nil, errors.New("id is required")
	}
	var fields store.Row
	if err := decodeInput(input, &fields); err != nil {
		return 0, nil, err
	}
	delete(fields, "id")
	return in.ID, fields, nil
}
