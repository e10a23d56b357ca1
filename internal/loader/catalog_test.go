// ABOUTME: Tests for the extension catalog

package loader

import (
	"context"
	"errors"
	"testing"
)

type nopExtension struct{}

func (nopExtension) Init(context.Context, *Host) error { return nil }

func TestCatalog(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		c := NewCatalog()
		if err := c.Register("nop", func() Extension { return nopExtension{} }); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		f, ok := c.Lookup("nop")
		if !ok {
			t.Fatal("expected nop to be registered")
		}
		if f() == nil {
			t.Error("factory returned nil")
		}
		if _, ok := c.Lookup("other"); ok {
			t.Error("expected other to be missing")
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		c := NewCatalog()
		factory := func() Extension { return nopExtension{} }
		if err := c.Register("nop", factory); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		err := c.Register("nop", factory)
		if !errors.Is(err, ErrEntryExists) {
			t.Errorf("expected ErrEntryExists, got %v", err)
		}
	})

	t.Run("empty name or nil factory rejected", func(t *testing.T) {
		c := NewCatalog()
		if err := c.Register("", func() Extension { return nopExtension{} }); err == nil {
			t.Error("expected error for empty entry name")
		}
		if err := c.Register("x", nil); err == nil {
			t.Error("expected error for nil factory")
		}
	})

	t.Run("entries sorted", func(t *testing.T) {
		c := NewCatalog()
		for _, name := range []string{"b", "c", "a"} {
			if err := c.Register(name, func() Extension { return nopExtension{} }); err != nil {
				t.Fatalf("Register(%s) failed: %v", name, err)
			}
		}
		got := c.Entries()
		want := []string{"a", "b", "c"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected %v, got %v", want, got)
				break
			}
		}
	})
}
