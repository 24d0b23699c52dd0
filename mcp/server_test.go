package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/semdex/semdex/config"
)

func TestNewServer(t *testing.T) {
	s, err := NewServer("/tmp/project")
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if s.mcpServer == nil {
		t.Fatal("expected an initialized MCP server")
	}
	if s.projectRoot != "/tmp/project" {
		t.Fatalf("expected project root /tmp/project, got %s", s.projectRoot)
	}
}

func TestEncodeOutputJSON(t *testing.T) {
	results := []SearchResult{
		{Folder: "root", FilePath: "main.go", StartLine: 1, EndLine: 10, Score: 0.92, Content: "package main"},
	}

	output, err := encodeOutput(results, "json")
	if err != nil {
		t.Fatalf("encodeOutput returned error: %v", err)
	}

	var decoded []SearchResult
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0].FilePath != "main.go" {
		t.Fatalf("unexpected decoded output: %+v", decoded)
	}
}

func TestEncodeOutputTOON(t *testing.T) {
	results := []SearchResult{
		{FilePath: "a.go", StartLine: 1, EndLine: 5, Score: 0.8},
		{FilePath: "b.go", StartLine: 6, EndLine: 9, Score: 0.7},
	}

	output, err := encodeOutput(results, "toon")
	if err != nil {
		t.Fatalf("encodeOutput returned error: %v", err)
	}
	if !strings.Contains(output, "a.go") || !strings.Contains(output, "b.go") {
		t.Fatalf("TOON output missing file paths: %s", output)
	}
	// TOON should be more compact than indented JSON for tabular data.
	jsonOutput, err := encodeOutput(results, "json")
	if err != nil {
		t.Fatalf("encodeOutput returned error: %v", err)
	}
	if len(output) >= len(jsonOutput) {
		t.Errorf("expected TOON (%d bytes) to be smaller than JSON (%d bytes)", len(output), len(jsonOutput))
	}
}

func TestEncodeOutputDefaultsToJSON(t *testing.T) {
	output, err := encodeOutput(map[string]string{"key": "value"}, "")
	if err != nil {
		t.Fatalf("encodeOutput returned error: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("default output is not JSON: %v", err)
	}
	if decoded["key"] != "value" {
		t.Fatalf("unexpected decoded output: %+v", decoded)
	}
}

func TestFoldersDefaultsToProjectRoot(t *testing.T) {
	s := &Server{projectRoot: "/tmp/project"}
	cfg := config.DefaultConfig()

	folders := s.folders(cfg)
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}
	if folders[0].Path != "/tmp/project" {
		t.Fatalf("expected project root as default folder, got %s", folders[0].Path)
	}
}

func TestSelectFolders(t *testing.T) {
	s := &Server{projectRoot: "/tmp/project"}
	cfg := config.DefaultConfig()
	cfg.Folders = []config.FolderConfig{
		{ID: "root", Path: "."},
		{ID: "docs", Path: "/srv/docs"},
	}

	t.Run("no filter returns all", func(t *testing.T) {
		folders, err := s.selectFolders(cfg, "")
		if err != nil {
			t.Fatalf("selectFolders returned error: %v", err)
		}
		if len(folders) != 2 {
			t.Fatalf("expected 2 folders, got %d", len(folders))
		}
	})

	t.Run("filter by ID", func(t *testing.T) {
		folders, err := s.selectFolders(cfg, "docs")
		if err != nil {
			t.Fatalf("selectFolders returned error: %v", err)
		}
		if len(folders) != 1 || folders[0].FolderID() != "docs" {
			t.Fatalf("expected only the docs folder, got %+v", folders)
		}
	})

	t.Run("unknown ID errors", func(t *testing.T) {
		if _, err := s.selectFolders(cfg, "missing"); err == nil {
			t.Fatal("expected error for unknown folder ID")
		}
	})
}

func TestOpenStoreGobBackend(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, config.ConfigDir), 0755); err != nil {
		t.Fatal(err)
	}

	s := &Server{projectRoot: root}
	cfg := config.DefaultConfig()
	folder := config.FolderConfig{ID: "root", Path: "."}

	st, err := s.openStore(context.Background(), cfg, folder)
	if err != nil {
		t.Fatalf("openStore returned error: %v", err)
	}
	defer st.Close()

	stats, err := st.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats returned error: %v", err)
	}
	if stats.TotalFiles != 0 || stats.TotalChunks != 0 {
		t.Fatalf("expected an empty index, got %+v", stats)
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	s := &Server{projectRoot: t.TempDir()}
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "cassandra"

	if _, err := s.openStore(context.Background(), cfg, config.FolderConfig{Path: "."}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
