package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/semdex/semdex/internal/fileutil"
	"github.com/semdex/semdex/lifecycle"
)

// GobStore keeps the whole index in memory and persists it as a single gob
// file under the folder's .semdex directory. A sibling .lock file guards
// against concurrent writers from other processes.
type GobStore struct {
	indexPath string
	lockPath  string

	mu        sync.RWMutex
	chunks    map[string]Chunk    // id -> chunk
	documents map[string]Document // path -> document
	snapshot  lifecycle.Snapshot
}

type gobIndex struct {
	Chunks    map[string]Chunk
	Documents map[string]Document
	Snapshot  lifecycle.Snapshot
}

func NewGobStore(indexPath string) *GobStore {
	return &GobStore{
		indexPath: indexPath,
		lockPath:  indexPath + ".lock",
		chunks:    make(map[string]Chunk),
		documents: make(map[string]Document),
		snapshot:  make(lifecycle.Snapshot),
	}
}

func (s *GobStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *GobStore) DeleteByFile(ctx context.Context, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[filePath]
	if !ok {
		return nil
	}
	for _, id := range doc.ChunkIDs {
		delete(s.chunks, id)
	}
	delete(s.documents, filePath)
	return nil
}

func (s *GobStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		results = append(results, SearchResult{
			Chunk: c,
			Score: cosineSimilarity(queryVector, c.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *GobStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[filePath]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *GobStore) SaveDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[doc.Path] = doc
	return nil
}

func (s *GobStore) ListDocuments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.documents))
	for path := range s.documents {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *GobStore) GetAllChunks(ctx context.Context) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (s *GobStore) SaveSnapshot(ctx context.Context, snap lifecycle.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(lifecycle.Snapshot, len(snap))
	for path, rec := range snap {
		copied[path] = rec
	}
	s.snapshot = copied
	return nil
}

func (s *GobStore) LoadSnapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make(lifecycle.Snapshot, len(s.snapshot))
	for path, rec := range s.snapshot {
		copied[path] = rec
	}
	return copied, nil
}

func (s *GobStore) GetStats(ctx context.Context) (*IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastUpdated time.Time
	for _, c := range s.chunks {
		if c.UpdatedAt.After(lastUpdated) {
			lastUpdated = c.UpdatedAt
		}
	}

	var size int64
	if info, err := os.Stat(s.indexPath); err == nil {
		size = info.Size()
	}

	return &IndexStats{
		TotalFiles:  len(s.documents),
		TotalChunks: len(s.chunks),
		IndexSize:   size,
		LastUpdated: lastUpdated,
	}, nil
}

func (s *GobStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.acquireLock(func(f *os.File) error { return fileutil.FlockShared(f, false) })
	if err == nil {
		defer unlock()
	}
	return s.loadLocked()
}

func (s *GobStore) loadLocked() error {
	file, err := os.Open(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	var data gobIndex
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}

	s.chunks = data.Chunks
	s.documents = data.Documents
	s.snapshot = data.Snapshot
	if s.chunks == nil {
		s.chunks = make(map[string]Chunk)
	}
	if s.documents == nil {
		s.documents = make(map[string]Document)
	}
	if s.snapshot == nil {
		s.snapshot = make(lifecycle.Snapshot)
	}
	return nil
}

func (s *GobStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := s.acquireLock(func(f *os.File) error { return fileutil.FlockExclusive(f, false) })
	if err == nil {
		defer unlock()
	}
	return s.persistLocked()
}

// persistLocked writes to a temp file and renames it over the index so a
// crash mid-write never leaves a truncated index behind.
func (s *GobStore) persistLocked() error {
	if err := fileutil.EnsureParentDir(s.indexPath); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := s.indexPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	data := gobIndex{
		Chunks:    s.chunks,
		Documents: s.documents,
		Snapshot:  s.snapshot,
	}
	if err := gob.NewEncoder(file).Encode(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := fileutil.ReplaceFileAtomically(tmpPath, s.indexPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// acquireLock takes a cross-process file lock. Failure to lock is not fatal:
// the caller proceeds unlocked, matching single-process behavior on
// filesystems without flock support.
func (s *GobStore) acquireLock(lock func(*os.File) error) (func(), error) {
	lockFile, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lock(lockFile); err != nil {
		lockFile.Close()
		return nil, err
	}
	return func() {
		_ = fileutil.Funlock(lockFile)
		lockFile.Close()
	}, nil
}

func (s *GobStore) Close() error {
	return s.Persist(context.Background())
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
