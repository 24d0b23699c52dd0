// Package store persists indexed chunks, their embeddings, and the folder
// snapshot used by the change scanner. Three backends are available: a local
// gob file, Postgres with pgvector, and Qdrant.
package store

import (
	"context"
	"time"

	"github.com/semdex/semdex/lifecycle"
)

// Chunk is one embedded slice of a file.
type Chunk struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"vector"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is the per-file index entry tying a path to its chunk IDs.
type Document struct {
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	ModTime  time.Time `json:"mod_time"`
	ChunkIDs []string  `json:"chunk_ids"`
}

// SearchResult pairs a chunk with its similarity score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// IndexStats summarizes one folder's index.
type IndexStats struct {
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
	IndexSize   int64     `json:"index_size"`
	LastUpdated time.Time `json:"last_updated"`
}

// VectorStore is the storage backend for one indexed folder.
type VectorStore interface {
	// SaveChunks stores the given chunks, replacing any with the same ID.
	SaveChunks(ctx context.Context, chunks []Chunk) error

	// DeleteByFile removes all chunks and the document entry for a path.
	DeleteByFile(ctx context.Context, filePath string) error

	// Search returns the chunks most similar to the query vector.
	Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error)

	// GetDocument returns the document for a path, or nil when unknown.
	GetDocument(ctx context.Context, filePath string) (*Document, error)

	// SaveDocument stores a document entry.
	SaveDocument(ctx context.Context, doc Document) error

	// ListDocuments returns all indexed paths.
	ListDocuments(ctx context.Context) ([]string, error)

	// GetAllChunks returns every stored chunk, used for keyword search.
	GetAllChunks(ctx context.Context) ([]Chunk, error)

	// SaveSnapshot records the folder listing the last completed scan saw,
	// so the next process start diffs against it instead of reindexing
	// everything.
	SaveSnapshot(ctx context.Context, snap lifecycle.Snapshot) error

	// LoadSnapshot returns the last recorded folder listing, or an empty
	// snapshot when none was saved.
	LoadSnapshot(ctx context.Context) (lifecycle.Snapshot, error)

	// GetStats returns index statistics.
	GetStats(ctx context.Context) (*IndexStats, error)

	// Load reads persisted state. Backends without a load phase no-op.
	Load(ctx context.Context) error

	// Persist flushes state to durable storage. Backends that write
	// through on every call no-op.
	Persist(ctx context.Context) error

	// Close flushes and releases the backend.
	Close() error
}
