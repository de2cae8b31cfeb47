package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemVault_Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	if err := v.Put(ctx, "docs/notes/a.txt/$3", strings.NewReader("abc"), 3); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "docs", "notes", "a.txt", "$3"))
	if err != nil {
		t.Fatalf("object not stored at expected path: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("content = %q, want abc", data)
	}

	t.Run("delete prunes empty directories", func(t *testing.T) {
		if err := v.Delete(ctx, "docs/notes/a.txt/$3"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "docs")); !os.IsNotExist(err) {
			t.Errorf("empty directories left behind: %v", err)
		}
		if _, err := os.Stat(root); err != nil {
			t.Errorf("vault root removed: %v", err)
		}
	})

	t.Run("temp files are not listed", func(t *testing.T) {
		os.WriteFile(filepath.Join(root, ".tmp-123"), []byte("x"), 0644)
		names, err := v.List(ctx, "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(names) != 0 {
			t.Errorf("List() = %v, want none", names)
		}
	})
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		v, _ := NewFileSystemVault("test", t.TempDir())
		if err := v.ValidateSetup(context.Background()); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")
		v, _ := NewFileSystemVault("test", root)
		os.RemoveAll(root)
		if err := v.ValidateSetup(context.Background()); err == nil {
			t.Error("ValidateSetup() expected error for missing root")
		}
	})
}
