package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semdex/semdex/lifecycle"
)

func newTempStore(t *testing.T) *GobStore {
	t.Helper()
	return NewGobStore(filepath.Join(t.TempDir(), "index.gob"))
}

func TestGobStore_SaveAndSearchChunks(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()

	chunks := []Chunk{
		{
			ID:        "chunk1",
			FilePath:  "main.go",
			StartLine: 1,
			EndLine:   10,
			Content:   "func main() {}",
			Vector:    []float32{1.0, 0.0, 0.0},
			Hash:      "abc123",
			UpdatedAt: time.Now(),
		},
		{
			ID:        "chunk2",
			FilePath:  "main.go",
			StartLine: 11,
			EndLine:   20,
			Content:   "func helper() {}",
			Vector:    []float32{0.0, 1.0, 0.0},
			Hash:      "def456",
			UpdatedAt: time.Now(),
		},
	}
	if err := s.SaveChunks(ctx, chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	results, err := s.Search(ctx, []float32{0.9, 0.1, 0.0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "chunk1" {
		t.Errorf("expected chunk1 as best match, got %s", results[0].Chunk.ID)
	}
}

func TestGobStore_DeleteByFileRemovesDocument(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()

	if err := s.SaveDocument(ctx, Document{
		Path:     "main.go",
		Hash:     "abc123",
		ModTime:  time.Now(),
		ChunkIDs: []string{"chunk1", "chunk2"},
	}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.SaveChunks(ctx, []Chunk{
		{ID: "chunk1", FilePath: "main.go", Vector: []float32{1.0, 0.0}},
		{ID: "chunk2", FilePath: "main.go", Vector: []float32{0.0, 1.0}},
	}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	if err := s.DeleteByFile(ctx, "main.go"); err != nil {
		t.Fatalf("DeleteByFile: %v", err)
	}

	results, err := s.Search(ctx, []float32{1.0, 0.0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}

	doc, err := s.GetDocument(ctx, "main.go")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc != nil {
		t.Error("document survived DeleteByFile")
	}
}

func TestGobStore_PersistAndLoad(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.gob")
	ctx := context.Background()

	s1 := NewGobStore(indexPath)
	if err := s1.SaveChunks(ctx, []Chunk{
		{ID: "chunk1", FilePath: "main.go", Content: "test content", Vector: []float32{1.0, 0.0}},
	}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s1.SaveDocument(ctx, Document{Path: "main.go", Hash: "abc", ChunkIDs: []string{"chunk1"}}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s1.SaveSnapshot(ctx, lifecycle.Snapshot{
		"main.go": {Path: "main.go", Size: 42, ModTime: time.Now()},
	}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s1.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	s2 := NewGobStore(indexPath)
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	results, err := s2.Search(ctx, []float32{1.0, 0.0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result after reload, got %d", len(results))
	}
	if results[0].Chunk.Content != "test content" {
		t.Errorf("content = %q, want %q", results[0].Chunk.Content, "test content")
	}

	snap, err := s2.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if rec, ok := snap["main.go"]; !ok || rec.Size != 42 {
		t.Errorf("snapshot entry = %+v, want size 42", rec)
	}
}

func TestGobStore_PersistLeavesNoTempFile(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.gob")
	ctx := context.Background()

	s := NewGobStore(indexPath)
	if err := s.SaveChunks(ctx, []Chunk{{ID: "c1", FilePath: "a.go"}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("index file missing: %v", err)
	}
	if _, err := os.Stat(indexPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after persist")
	}
}

func TestGobStore_ListDocuments(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()

	for _, doc := range []Document{
		{Path: "b.go", Hash: "b"},
		{Path: "a.go", Hash: "a"},
		{Path: "c.go", Hash: "c"},
	} {
		if err := s.SaveDocument(ctx, doc); err != nil {
			t.Fatalf("SaveDocument: %v", err)
		}
	}

	paths, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(paths))
	}
	if paths[0] != "a.go" || paths[1] != "b.go" || paths[2] != "c.go" {
		t.Errorf("paths not sorted: %v", paths)
	}
}

func TestGobStore_GetStats(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()

	if err := s.SaveChunks(ctx, []Chunk{
		{ID: "1", FilePath: "file1.go", UpdatedAt: time.Now()},
		{ID: "2", FilePath: "file1.go", UpdatedAt: time.Now()},
		{ID: "3", FilePath: "file2.go", UpdatedAt: time.Now()},
	}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s.SaveDocument(ctx, Document{Path: "file1.go", ChunkIDs: []string{"1", "2"}}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.SaveDocument(ctx, Document{Path: "file2.go", ChunkIDs: []string{"3"}}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2", stats.TotalFiles)
	}
	if stats.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", stats.TotalChunks)
	}
}

func TestGobStore_FileLocking(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.gob")
	ctx := context.Background()

	s1 := NewGobStore(indexPath)
	if err := s1.SaveChunks(ctx, []Chunk{
		{ID: "c1", FilePath: "a.go", Content: "hello", Vector: []float32{1, 2, 3}},
	}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s1.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if _, err := os.Stat(indexPath + ".lock"); os.IsNotExist(err) {
		t.Fatal("expected lock file to be created")
	}

	s2 := NewGobStore(indexPath)
	if err := s2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	chunks, err := s2.GetAllChunks(ctx)
	if err != nil {
		t.Fatalf("GetAllChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "c1" {
		t.Fatalf("reloaded chunks = %+v, want single c1", chunks)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"different lengths", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("cosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSanitizeCollectionName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/home/user/project", "semdex_home_user_project"},
		{"C:\\work\\repo", "semdex_C_work_repo"},
		{"", "semdex_semdex"},
	}
	for _, tt := range tests {
		if got := SanitizeCollectionName(tt.in); got != tt.want {
			t.Errorf("SanitizeCollectionName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
