package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverSamplesBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "3", "b.png"))
	mustWrite(t, filepath.Join(dir, "0", "a.png"))
	mustWrite(t, filepath.Join(dir, "0", "notes.txt"))
	mustWrite(t, filepath.Join(dir, "7", "c.JPG"))

	entries, err := DiscoverSamples(dir, 10)
	if err != nil {
		t.Fatalf("DiscoverSamples error: %v", err)
	}
	want := []Entry{
		{Path: filepath.Join(dir, "0", "a.png"), Label: 0},
		{Path: filepath.Join(dir, "3", "b.png"), Label: 3},
		{Path: filepath.Join(dir, "7", "c.JPG"), Label: 7},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range want {
		if entries[i] != e {
			t.Fatalf("entry[%d]=%v want %v", i, entries[i], e)
		}
	}
}

func TestDiscoverSamplesRejectsBadLabel(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "ten", "a.png"))
	if _, err := DiscoverSamples(dir, 10); err == nil {
		t.Fatal("expected error for non-numeric label directory")
	}

	dir = t.TempDir()
	mustWrite(t, filepath.Join(dir, "12", "a.png"))
	if _, err := DiscoverSamples(dir, 10); err == nil {
		t.Fatal("expected error for out-of-range label")
	}
}

func TestDiscoverSamplesEmpty(t *testing.T) {
	entries, err := DiscoverSamples(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("DiscoverSamples error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
