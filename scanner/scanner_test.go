package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semdex/semdex/lifecycle"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

func paths(changes []lifecycle.FileChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Path
	}
	return out
}

func TestScanInitialPassReportsAllAsAdded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "sub/b.txt", "beta")

	s := New(Options{})
	result, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	got := paths(result.AddedFiles)
	want := []string{"a.txt", filepath.Join("sub", "b.txt")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("added = %v, want %v", got, want)
	}
	if len(result.ModifiedFiles) != 0 || len(result.RemovedFiles) != 0 {
		t.Errorf("unexpected modified/removed on initial pass: %v %v",
			paths(result.ModifiedFiles), paths(result.RemovedFiles))
	}
	if result.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2", result.TotalFiles)
	}
	if len(result.Snapshot) != 2 {
		t.Errorf("snapshot has %d entries, want 2", len(result.Snapshot))
	}
}

func TestScanClassifiesAddedModifiedRemoved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "same")
	modified := writeFile(t, root, "edit.txt", "v1")
	writeFile(t, root, "gone.txt", "bye")

	s := New(Options{})
	first, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	if err := os.WriteFile(modified, []byte("v2 longer"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "gone.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeFile(t, root, "new.txt", "hello")

	second, err := s.Scan(context.Background(), root, first.Snapshot)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	if got := paths(second.AddedFiles); len(got) != 1 || got[0] != "new.txt" {
		t.Errorf("added = %v, want [new.txt]", got)
	}
	if got := paths(second.ModifiedFiles); len(got) != 1 || got[0] != "edit.txt" {
		t.Errorf("modified = %v, want [edit.txt]", got)
	}
	if got := paths(second.RemovedFiles); len(got) != 1 || got[0] != "gone.txt" {
		t.Errorf("removed = %v, want [gone.txt]", got)
	}
	if !second.HasChanges() {
		t.Error("HasChanges() = false, want true")
	}
}

func TestScanNoChangesBetweenPasses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "stable.txt", "unchanged")

	s := New(Options{})
	first, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	second, err := s.Scan(context.Background(), root, first.Snapshot)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if second.HasChanges() {
		t.Errorf("HasChanges() = true for identical tree: %v %v %v",
			paths(second.AddedFiles), paths(second.ModifiedFiles), paths(second.RemovedFiles))
	}
}

func TestScanHashDetectsSameSizeEdit(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "f.txt", "aaaa")

	s := New(Options{HashContent: true})
	first, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	// Same size, same forced mtime; only the hash can tell.
	if err := os.WriteFile(path, []byte("bbbb"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	mt := first.Snapshot["f.txt"].ModTime
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	second, err := s.Scan(context.Background(), root, first.Snapshot)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if got := paths(second.ModifiedFiles); len(got) != 1 || got[0] != "f.txt" {
		t.Errorf("modified = %v, want [f.txt]", got)
	}
}

func TestScanRespectsIgnoreFileAndPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, IgnoreFileName, "*.log\n")
	writeFile(t, root, "app.log", "noise")
	writeFile(t, root, "node_modules/dep/index.js", "junk")
	writeFile(t, root, "src/main.go", "package main")

	s := New(Options{IgnorePatterns: []string{"node_modules"}})
	result, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	got := paths(result.AddedFiles)
	for _, p := range got {
		if p == "app.log" || filepath.ToSlash(p) == "node_modules/dep/index.js" {
			t.Errorf("ignored path %s was scanned", p)
		}
	}
	found := false
	for _, p := range got {
		if p == filepath.Join("src", "main.go") {
			found = true
		}
	}
	if !found {
		t.Errorf("src/main.go missing from scan: %v", got)
	}
}

func TestScanSkipsMetadataDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/config", "[core]")
	writeFile(t, root, ".semdex/index.gob", "binary")
	writeFile(t, root, "real.txt", "data")

	s := New(Options{})
	result, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.TotalFiles != 1 {
		t.Errorf("TotalFiles = %d, want 1 (got %v)", result.TotalFiles, paths(result.AddedFiles))
	}
}

func TestScanFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.md", "# doc")

	s := New(Options{IncludeExtensions: []string{".go"}})
	result, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := paths(result.AddedFiles); len(got) != 1 || got[0] != "a.go" {
		t.Errorf("added = %v, want [a.go]", got)
	}
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "ok")
	writeFile(t, root, "big.txt", "0123456789")

	s := New(Options{MaxFileSize: 5})
	result, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := paths(result.AddedFiles); len(got) != 1 || got[0] != "small.txt" {
		t.Errorf("added = %v, want [small.txt]", got)
	}
}

func TestScanMissingRootFails(t *testing.T) {
	s := New(Options{})
	if _, err := s.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("Scan of missing root succeeded, want error")
	}
}

func TestScanCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{})
	if _, err := s.Scan(ctx, root, nil); err == nil {
		t.Fatal("Scan with cancelled context succeeded, want error")
	}
}

func TestScanRecordsDuration(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "x")

	s := New(Options{})
	result, err := s.Scan(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.ScanDuration < 0 || result.ScanDuration > time.Minute {
		t.Errorf("ScanDuration = %v, implausible", result.ScanDuration)
	}
}
