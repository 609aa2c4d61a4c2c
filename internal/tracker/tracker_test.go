package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMarkAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accessed_files.txt")

	set, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if set.IsProcessed("room_1-20260118_050632.txt") {
		t.Fatalf("fresh ledger should be empty")
	}
	if err := set.MarkProcessed("room_1-20260118_050632.txt"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !set.IsProcessed("room_1-20260118_050632.txt") {
		t.Fatalf("expected file to be marked")
	}
	if err := set.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reload from disk; membership must survive restart.
	set2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer set2.Close()
	if !set2.IsProcessed("room_1-20260118_050632.txt") {
		t.Fatalf("expected marked file to persist across reload")
	}
}

func TestMarkIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accessed_files.txt")

	set, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer set.Close()

	for i := 0; i < 3; i++ {
		if err := set.MarkProcessed("a.txt"); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
	}
	if set.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", set.Len())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if got := strings.Count(string(data), "a.txt"); got != 1 {
		t.Fatalf("expected a single ledger line, found %d", got)
	}
}

func TestMarkEmptyName(t *testing.T) {
	set, err := Open(filepath.Join(t.TempDir(), "ledger.txt"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer set.Close()

	if err := set.MarkProcessed("  "); err == nil {
		t.Fatalf("expected error for empty filename")
	}
}
