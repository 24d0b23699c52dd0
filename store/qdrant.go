package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/semdex/semdex/internal/fileutil"
	"github.com/semdex/semdex/lifecycle"
)

// scrollPageSize bounds how many points one listing request returns.
const scrollPageSize = 4096

// QdrantOptions configure a connection to a Qdrant instance.
type QdrantOptions struct {
	Endpoint   string
	Port       int
	UseTLS     bool
	Collection string
	APIKey     string
	Dimensions int
	// MetaPath is a local gob file holding document and snapshot metadata,
	// which Qdrant's point-only model has no natural home for.
	MetaPath string
}

// QdrantStore keeps chunk vectors in a Qdrant collection. Document entries
// and the scan snapshot live in a local metadata file next to the index
// configuration.
type QdrantStore struct {
	client     *qdrant.Client
	collection string

	metaPath  string
	mu        sync.RWMutex
	documents map[string]Document
	snapshot  lifecycle.Snapshot
}

type qdrantMeta struct {
	Documents map[string]Document
	Snapshot  lifecycle.Snapshot
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// cosine distance and the embedder's dimensionality.
func NewQdrantStore(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	host := strings.TrimPrefix(strings.TrimPrefix(opts.Endpoint, "https://"), "http://")
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, opts.Collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", opts.Collection, err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: opts.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(opts.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", opts.Collection, err)
		}
	}

	s := &QdrantStore{
		client:     client,
		collection: opts.Collection,
		metaPath:   opts.MetaPath,
		documents:  make(map[string]Document),
		snapshot:   make(lifecycle.Snapshot),
	}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// SanitizeCollectionName derives a valid Qdrant collection name from a
// folder path.
var collectionUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func SanitizeCollectionName(folderPath string) string {
	name := collectionUnsafe.ReplaceAllString(folderPath, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "semdex"
	}
	return "semdex_" + name
}

func (s *QdrantStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"file_path":  c.FilePath,
				"start_line": int64(c.StartLine),
				"end_line":   int64(c.EndLine),
				"content":    c.Content,
				"hash":       c.Hash,
				"updated_at": c.UpdatedAt.Format(time.RFC3339Nano),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return nil
}

func (s *QdrantStore) DeleteByFile(ctx context.Context, filePath string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("file_path", filePath)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", filePath, err)
	}

	s.mu.Lock()
	delete(s.documents, filePath)
	s.mu.Unlock()
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		chunk := chunkFromPayload(p.Id.GetUuid(), p.Payload)
		if vec := p.Vectors.GetVector(); vec != nil {
			chunk.Vector = vec.Data
		}
		results = append(results, SearchResult{Chunk: chunk, Score: p.Score})
	}
	return results, nil
}

func (s *QdrantStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[filePath]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *QdrantStore) SaveDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[doc.Path] = doc
	return nil
}

func (s *QdrantStore) ListDocuments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.documents))
	for path := range s.documents {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *QdrantStore) GetAllChunks(ctx context.Context) ([]Chunk, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	chunks := make([]Chunk, 0, len(points))
	for _, p := range points {
		chunk := chunkFromPayload(p.Id.GetUuid(), p.Payload)
		if vec := p.Vectors.GetVector(); vec != nil {
			chunk.Vector = vec.Data
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (s *QdrantStore) SaveSnapshot(ctx context.Context, snap lifecycle.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(lifecycle.Snapshot, len(snap))
	for path, rec := range snap {
		copied[path] = rec
	}
	s.snapshot = copied
	return nil
}

func (s *QdrantStore) LoadSnapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make(lifecycle.Snapshot, len(s.snapshot))
	for path, rec := range s.snapshot {
		copied[path] = rec
	}
	return copied, nil
}

func (s *QdrantStore) GetStats(ctx context.Context) (*IndexStats, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return &IndexStats{
		TotalFiles:  len(s.documents),
		TotalChunks: int(count),
	}, nil
}

// Load reads the local metadata sidecar. A missing file means a fresh index.
func (s *QdrantStore) Load(ctx context.Context) error {
	if s.metaPath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta qdrantMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Documents != nil {
		s.documents = meta.Documents
	}
	if meta.Snapshot != nil {
		s.snapshot = meta.Snapshot
	}
	return nil
}

func (s *QdrantStore) Persist(ctx context.Context) error {
	if s.metaPath == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := fileutil.EnsureParentDir(s.metaPath); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	tmpPath := s.metaPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	meta := qdrantMeta{Documents: s.documents, Snapshot: s.snapshot}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	if err := fileutil.ReplaceFileAtomically(tmpPath, s.metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace metadata file: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if err := s.Persist(context.Background()); err != nil {
		return err
	}
	return s.client.Close()
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) Chunk {
	c := Chunk{ID: id}
	if v, ok := payload["file_path"]; ok {
		c.FilePath = v.GetStringValue()
	}
	if v, ok := payload["start_line"]; ok {
		c.StartLine = int(v.GetIntegerValue())
	}
	if v, ok := payload["end_line"]; ok {
		c.EndLine = int(v.GetIntegerValue())
	}
	if v, ok := payload["content"]; ok {
		c.Content = v.GetStringValue()
	}
	if v, ok := payload["hash"]; ok {
		c.Hash = v.GetStringValue()
	}
	if v, ok := payload["updated_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			c.UpdatedAt = ts
		}
	}
	return c
}
