// ABOUTME: Todos extension: a task list with status, priority and due dates
// ABOUTME: Backed by the bundle's todos table through a data facade

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/plugshell/internal/extdata"
	"github.com/2389/plugshell/internal/loader"
	"github.com/2389/plugshell/internal/store"
)

// TodosEntry is the manifest entry name of the todos extension.
const TodosEntry = "todos"

const todosManifest = `name = "todos"
version = "1.0.0"
entry = "todos"
description = "Task list"

[data]
table = "todos"
json_columns = ["meta"]
`

const todosSchema = `CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	notes TEXT,
	due_date TEXT,
	meta TEXT
);
`

var (
	todoStatuses   = map[string]bool{"pending": true, "in_progress": true, "completed": true}
	todoPriorities = map[string]bool{"low": true, "medium": true, "high": true}
)

// Todos stores tasks in the bundle's table.
type Todos struct {
	data *extdata.Facade
}

// Init binds the extension to its table.
func (t *Todos) Init(ctx context.Context, host *loader.Host) error {
	f, err := host.Data(ctx)
	if err != nil {
		return err
	}
	t.data = f
	return nil
}

// Stop releases the facade.
func (t *Todos) Stop(context.Context) error {
	if t.data != nil {
		t.data.Close()
	}
	return nil
}

// Actions lists the todo actions.
func (t *Todos) Actions() []Action {
	return []Action{
		{
			Name:            "todo_add",
			Description:     "Create a todo",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"},"description":{"type":"string"},"priority":{"type":"string","enum":["low","medium","high"]},"due_date":{"type":"string","format":"date-time"},"notes":{"type":"string"},"meta":{"type":"object"}},"required":["description"]}`,
			Handler:         t.Add,
		},
		{
			Name:            "todo_list",
			Description:     "List todos",
			InputSchemaJSON: `{"type":"object","properties":{"status":{"type":"string"},"priority":{"type":"string"}}}`,
			Handler:         t.List,
		},
		{
			Name:            "todo_update",
			Description:     "Update a todo's status, priority, or notes",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"},"status":{"type":"string","enum":["pending","in_progress","completed"]},"priority":{"type":"string"},"notes":{"type":"string"},"due_date":{"type":"string","format":"date-time"}},"required":["id"]}`,
			Handler:         t.Update,
		},
		{
			Name:            "todo_delete",
			Description:     "Delete a todo",
			InputSchemaJSON: `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`,
			Handler:         t.Delete,
		},
	}
}

type todoAddInput struct {
	ID          int64          `json:"id"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	DueDate     string         `json:"due_date"`
	Notes       string         `json:"notes"`
	Meta        map[string]any `json:"meta"`
}

func (t *Todos) Add(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in todoAddInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.Description == "" {
		return nil, errors.New("description is required")
	}

	row := store.Row{"description": in.Description}
	if in.Priority != "" {
		if !todoPriorities[in.Priority] {
			return nil, fmt.Errorf("invalid priority: %s", in.Priority)
		}
		row["priority"] = in.Priority
	}
	if in.DueDate != "" {
		due, err := parseDueDate(in.DueDate)
		if err != nil {
			return nil, err
		}
		row["due_date"] = due
	}
	if in.Notes != "" {
		row["notes"] = in.Notes
	}
	if in.Meta != nil {
		row["meta"] = in.Meta
	}

	if in.ID > 0 {
		row["id"] = in.ID
	}
	id, inserted, err := t.data.InsertIfAbsent(ctx, row)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return json.Marshal(map[string]any{"id": id, "status": "exists"})
	}
	return json.Marshal(map[string]any{"id": id, "status": "created"})
}

type todoListInput struct {
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func (t *Todos) List(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in todoListInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	where := store.Where{}
	if in.Status != "" {
		where["status"] = in.Status
	}
	if in.Priority != "" {
		where["priority"] = in.Priority
	}

	todos, err := t.data.Collect(ctx, where, store.Args{Order: "id"})
	if err != nil {
		return nil, err
	}
	if todos == nil {
		todos = []store.Row{}
	}
	return json.Marshal(map[string]any{"todos": todos, "count": len(todos)})
}

type todoUpdateInput struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
	DueDate  string `json:"due_date"`
}

func (t *Todos) Update(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in todoUpdateInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if in.ID <= 0 {
		return nil, errors.New("id is required")
	}

	// Only update fields that were provided
	row := store.Row{}
	if in.Status != "" {
		if !todoStatuses[in.Status] {
			return nil, fmt.Errorf("invalid status: %s", in.Status)
		}
		row["status"] = in.Status
	}
	if in.Priority != "" {
		if !todoPriorities[in.Priority] {
			return nil, fmt.Errorf("invalid priority: %s", in.Priority)
		}
		row["priority"] = in.Priority
	}
	if in.Notes != "" {
		row["notes"] = in.Notes
	}
	if in.DueDate != "" {
		due, err := parseDueDate(in.DueDate)
		if err != nil {
			return nil, err
		}
		row["due_date"] = due
	}
	if len(row) == 0 {
		return nil, errors.New("nothing to update")
	}
	if !t.data.ContainsID(in.ID) {
		return nil, fmt.Errorf("todo %d: %w", in.ID, ErrNotFound)
	}

	changed, err := t.data.Update(ctx, row, store.Where{"id": in.ID})
	if err != nil {
		return nil, err
	}
	if changed == 0 {
		return nil, fmt.Errorf("todo %d: %w", in.ID, ErrNotFound)
	}
	return json.Marshal(map[string]any{"id": in.ID, "status": "updated"})
}

func (t *Todos) Delete(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in idInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	removed, err := t.data.Remove(ctx, store.Where{"id": in.ID})
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, fmt.Errorf("todo %d: %w", in.ID, ErrNotFound)
	}
	return json.Marshal(map[string]any{"id": in.ID, "status": "deleted"})
}

func parseDueDate(s string) (string, error) {
	due, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("invalid due_date: %w", err)
	}
	return due.UTC().Format(time.RFC3339), nil
}
