package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/semdex/semdex/lifecycle"
	"github.com/semdex/semdex/store"
)

// stubEmbedder returns fixed-size vectors, or a scripted error.
type stubEmbedder struct {
	dims  int
	errs  []error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, s.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                { return s.dims }
func (s *stubEmbedder) Ping(ctx context.Context) error { return nil }
func (s *stubEmbedder) Close() error                   { return nil }

func newTestExecutor(t *testing.T, emb *stubEmbedder) (*Executor, *store.GobStore, string) {
	t.Helper()
	folder := t.TempDir()
	st := store.NewGobStore(filepath.Join(t.TempDir(), "index.gob"))
	ex := NewExecutor(folder, st, emb, NewChunker(100, 10))
	return ex, st, folder
}

func writeTestFile(t *testing.T, folder, rel, content string) {
	t.Helper()
	path := filepath.Join(folder, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestExecutorIndexesFile(t *testing.T) {
	ex, st, folder := newTestExecutor(t, &stubEmbedder{dims: 4})
	writeTestFile(t, folder, "main.go", "package main\n\nfunc main() {}\n")

	result := ex.Execute(context.Background(), lifecycle.FileTask{
		ID:   "t1",
		File: "main.go",
		Type: lifecycle.TaskCreateEmbeddings,
	})
	if !result.Success {
		t.Fatalf("Execute failed: %v", result.Err)
	}

	ctx := context.Background()
	doc, err := st.GetDocument(ctx, "main.go")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc == nil {
		t.Fatal("no document saved")
	}
	if len(doc.ChunkIDs) == 0 {
		t.Fatal("document has no chunks")
	}

	chunks, err := st.GetAllChunks(ctx)
	if err != nil {
		t.Fatalf("GetAllChunks: %v", err)
	}
	if len(chunks) != len(doc.ChunkIDs) {
		t.Errorf("stored %d chunks, document lists %d", len(chunks), len(doc.ChunkIDs))
	}
	for _, c := range chunks {
		if len(c.Vector) != 4 {
			t.Errorf("chunk %s vector has %d dims, want 4", c.ID, len(c.Vector))
		}
	}
}

func TestExecutorUpdateReplacesChunks(t *testing.T) {
	ex, st, folder := newTestExecutor(t, &stubEmbedder{dims: 4})
	ctx := context.Background()

	writeTestFile(t, folder, "a.txt", "first version")
	if r := ex.Execute(ctx, lifecycle.FileTask{ID: "t1", File: "a.txt", Type: lifecycle.TaskCreateEmbeddings}); !r.Success {
		t.Fatalf("create failed: %v", r.Err)
	}
	firstDoc, _ := st.GetDocument(ctx, "a.txt")

	writeTestFile(t, folder, "a.txt", "second version, now with more text")
	if r := ex.Execute(ctx, lifecycle.FileTask{ID: "t2", File: "a.txt", Type: lifecycle.TaskUpdateEmbeddings}); !r.Success {
		t.Fatalf("update failed: %v", r.Err)
	}
	secondDoc, _ := st.GetDocument(ctx, "a.txt")

	if firstDoc.Hash == secondDoc.Hash {
		t.Error("document hash unchanged after update")
	}

	chunks, _ := st.GetAllChunks(ctx)
	for _, c := range chunks {
		for _, id := range firstDoc.ChunkIDs {
			if c.ID == id && !contains(secondDoc.ChunkIDs, id) {
				t.Errorf("stale chunk %s survived update", id)
			}
		}
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestExecutorRemove(t *testing.T) {
	ex, st, folder := newTestExecutor(t, &stubEmbedder{dims: 4})
	ctx := context.Background()

	writeTestFile(t, folder, "gone.txt", "content")
	if r := ex.Execute(ctx, lifecycle.FileTask{ID: "t1", File: "gone.txt", Type: lifecycle.TaskCreateEmbeddings}); !r.Success {
		t.Fatalf("create failed: %v", r.Err)
	}

	if r := ex.Execute(ctx, lifecycle.FileTask{ID: "t2", File: "gone.txt", Type: lifecycle.TaskRemoveEmbeddings}); !r.Success {
		t.Fatalf("remove failed: %v", r.Err)
	}

	doc, err := st.GetDocument(ctx, "gone.txt")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc != nil {
		t.Error("document survived removal")
	}
	chunks, _ := st.GetAllChunks(ctx)
	if len(chunks) != 0 {
		t.Errorf("%d chunks survived removal", len(chunks))
	}
}

func TestExecutorMissingFileTreatedAsRemoval(t *testing.T) {
	ex, _, _ := newTestExecutor(t, &stubEmbedder{dims: 4})

	result := ex.Execute(context.Background(), lifecycle.FileTask{
		ID:   "t1",
		File: "never-existed.txt",
		Type: lifecycle.TaskCreateEmbeddings,
	})
	if !result.Success {
		t.Fatalf("expected success for vanished file, got %v", result.Err)
	}
}

func TestExecutorEmbedErrorIsRetryable(t *testing.T) {
	emb := &stubEmbedder{dims: 4, errs: []error{errors.New("connection refused")}}
	ex, _, folder := newTestExecutor(t, emb)
	writeTestFile(t, folder, "a.txt", "content")

	result := ex.Execute(context.Background(), lifecycle.FileTask{
		ID: "t1", File: "a.txt", Type: lifecycle.TaskCreateEmbeddings,
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Fatal {
		t.Error("transient embed error marked fatal")
	}
}

func TestExecutorRechunksOnContextLengthError(t *testing.T) {
	emb := &stubEmbedder{dims: 4, errs: []error{errors.New("maximum context length exceeded")}}
	ex, st, folder := newTestExecutor(t, emb)
	writeTestFile(t, folder, "big.txt", "some content that will be re-chunked\n")

	result := ex.Execute(context.Background(), lifecycle.FileTask{
		ID: "t1", File: "big.txt", Type: lifecycle.TaskCreateEmbeddings,
	})
	if !result.Success {
		t.Fatalf("Execute failed: %v", result.Err)
	}
	if emb.calls != 2 {
		t.Errorf("embedder called %d times, want 2 (initial + re-chunked retry)", emb.calls)
	}

	doc, _ := st.GetDocument(context.Background(), "big.txt")
	if doc == nil || len(doc.ChunkIDs) == 0 {
		t.Fatal("no document saved after re-chunk retry")
	}
}

func TestExecutorUnknownTaskTypeIsFatal(t *testing.T) {
	ex, _, _ := newTestExecutor(t, &stubEmbedder{dims: 4})

	result := ex.Execute(context.Background(), lifecycle.FileTask{
		ID: "t1", File: "a.txt", Type: lifecycle.TaskType("bogus"),
	})
	if result.Success {
		t.Fatal("expected failure")
	}
	if !result.Fatal {
		t.Error("malformed task not marked fatal")
	}
}
