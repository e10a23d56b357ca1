// ABOUTME: Tests for the notes extension actions
// ABOUTME: Uses real SQLite store for integration testing.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestNoteAddAndGet(t *testing.T) {
	exts := loadBuiltins(t)
	notes := exts[NotesEntry]

	resp := call(t, notes, "note_add", `{"title": "a", "body": {"tags": ["x", "y"]}, "tags": ["work"]}`)
	if resp["status"] != "saved" {
		t.Errorf("unexpected status: %v", resp["status"])
	}
	if resp["id"] != float64(1) {
		t.Fatalf("unexpected id: %v", resp["id"])
	}

	resp = call(t, notes, "note_get", `{"id": 1}`)
	note, ok := resp["note"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected note: %v", resp["note"])
	}
	if note["title"] != "a" {
		t.Errorf("unexpected title: %v", note["title"])
	}
	body, ok := note["body"].(map[string]any)
	if !ok {
		t.Fatalf("body not decoded: %#v", note["body"])
	}
	tags, ok := body["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "x" || tags[1] != "y" {
		t.Errorf("unexpected body tags: %v", body["tags"])
	}
	if note["created_at"] == nil {
		t.Error("expected created_at default")
	}
}

func TestNoteAdd_RequiresTitle(t *testing.T) {
	exts := loadBuiltins(t)

	_, err := Invoke(context.Background(), exts[NotesEntry], "note_add", json.RawMessage(`{"body": "x"}`))
	if err == nil {
		t.Fatal("expected error without title")
	}
}

func TestNoteList(t *testing.T) {
	exts := loadBuiltins(t)
	notes := exts[NotesEntry]

	call(t, notes, "note_add", `{"title": "one", "tags": ["work"]}`)
	call(t, notes, "note_add", `{"title": "two", "tags": ["home"]}`)
	call(t, notes, "note_add", `{"title": "three", "tags": ["work", "urgent"]}`)

	resp := call(t, notes, "note_list", `{}`)
	if resp["count"] != float64(3) || resp["total"] != float64(3) {
		t.Errorf("unexpected counts: count=%v total=%v", resp["count"], resp["total"])
	}

	resp = call(t, notes, "note_list", `{"limit": 2, "order": "-id"}`)
	list := resp["notes"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(list))
	}
	if list[0].(map[string]any)["title"] != "three" {
		t.Errorf("expected newest first, got %v", list[0])
	}

	resp = call(t, notes, "note_list", `{"tag": "work"}`)
	if resp["count"] != float64(2) {
		t.Errorf("expected 2 work notes, got %v", resp["count"])
	}
}

func TestNoteUpdate(t *testing.T) {
	exts := loadBuiltins(t)
	notes := exts[NotesEntry]

	call(t, notes, "note_add", `{"title": "a", "body": {"v": 1}}`)

	resp := call(t, notes, "note_update", `{"id": 1, "title": "b", "color": "ignored"}`)
	if resp["status"] != "updated" {
		t.Errorf("unexpected status: %v", resp["status"])
	}

	note := call(t, notes, "note_get", `{"id": 1}`)["note"].(map[string]any)
	if note["title"] != "b" {
		t.Errorf("title not updated: %v", note["title"])
	}
	if body := note["body"].(map[string]any); body["v"] != float64(1) {
		t.Errorf("body changed: %v", body)
	}

	_, err := Invoke(context.Background(), notes, "note_update", json.RawMessage(`{"id": 99, "title": "x"}`))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = Invoke(context.Background(), notes, "note_update", json.RawMessage(`{"title": "x"}`))
	if err == nil {
		t.Error("expected error without id")
	}
}

func TestNoteUpdate_NothingToChange(t *testing.T) {
	exts := loadBuiltins(t)
	notes := exts[NotesEntry]

	call(t, notes, "note_add", `{"title": "a"}`)

	resp := call(t, notes, "note_update", `{"id": 1, "created_at": "2000-01-01T00:00:00Z"}`)
	if resp["status"] != "unchanged" {
		t.Errorf("unexpected status for an existing note: %v", resp["status"])
	}

	_, err := Invoke(context.Background(), notes, "note_update", json.RawMessage(`{"id": 2, "created_at": "x"}`))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing note, got %v", err)
	}
}

func TestNoteAdd_ClientIDIsIdempotent(t *testing.T) {
	exts := loadBuiltins(t)
	notes := exts[NotesEntry]

	resp := call(t, notes, "note_add", `{"id": 40, "title": "first"}`)
	if resp["status"] != "saved" || resp["id"] != float64(40) {
		t.Fatalf("unexpected first add: %v", resp)
	}

	resp = call(t, notes, "note_add", `{"id": 40, "title": "second"}`)
	if resp["status"] != "exists" || resp["id"] != float64(40) {
		t.Errorf("unexpected repeated add: %v", resp)
	}

	note := call(t, notes, "note_get", `{"id": 40}`)["note"].(map[string]any)
	if note["title"] != "first" {
		t.Errorf("repeated add overwrote the note: %v", note["title"])
	}
	if total := call(t, notes, "note_list", `{}`)["total"]; total != float64(1) {
		t.Errorf("unexpected total: %v", total)
	}
}

func TestNoteDelete(t *testing.T) {
	exts := loadBuiltins(t)
	notes := exts[NotesEntry]

	call(t, notes, "note_add", `{"title": "a"}`)

	resp := call(t, notes, "note_delete", `{"id": 1}`)
	if resp["status"] != "deleted" {
		t.Errorf("unexpected status: %v", resp["status"])
	}

	_, err := Invoke(context.Background(), notes, "note_get", json.RawMessage(`{"id": 1}`))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	_, err = Invoke(context.Background(), notes, "note_delete", json.RawMessage(`{"id": 1}`))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
