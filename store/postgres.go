package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/semdex/semdex/lifecycle"
)

// PostgresStore keeps the index in Postgres with the pgvector extension.
// Rows are scoped by folder so several indexed folders can share one
// database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	folder string
	dims   int
}

// NewPostgresStore connects to dsn, ensures the pgvector extension and the
// semdex tables exist, and returns a store scoped to folder.
func NewPostgresStore(ctx context.Context, dsn, folder string, dimensions int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, folder: folder, dims: dimensions}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS semdex_chunks (
			id TEXT PRIMARY KEY,
			folder TEXT NOT NULL,
			file_path TEXT NOT NULL,
			start_line INT NOT NULL,
			end_line INT NOT NULL,
			content TEXT NOT NULL,
			hash TEXT NOT NULL,
			embedding vector(%d),
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS semdex_chunks_folder_file
			ON semdex_chunks (folder, file_path)`,
		`CREATE TABLE IF NOT EXISTS semdex_documents (
			folder TEXT NOT NULL,
			path TEXT NOT NULL,
			hash TEXT NOT NULL,
			mod_time TIMESTAMPTZ NOT NULL,
			chunk_ids TEXT[] NOT NULL,
			PRIMARY KEY (folder, path)
		)`,
		`CREATE TABLE IF NOT EXISTS semdex_snapshots (
			folder TEXT NOT NULL,
			path TEXT NOT NULL,
			size BIGINT NOT NULL,
			mod_time TIMESTAMPTZ NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (folder, path)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`INSERT INTO semdex_chunks
				(id, folder, file_path, start_line, end_line, content, hash, embedding, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				file_path = EXCLUDED.file_path,
				start_line = EXCLUDED.start_line,
				end_line = EXCLUDED.end_line,
				content = EXCLUDED.content,
				hash = EXCLUDED.hash,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at`,
			c.ID, s.folder, c.FilePath, c.StartLine, c.EndLine, c.Content, c.Hash,
			pgvector.NewVector(c.Vector), c.UpdatedAt)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save chunks: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteByFile(ctx context.Context, filePath string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM semdex_chunks WHERE folder = $1 AND file_path = $2`,
		s.folder, filePath); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", filePath, err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM semdex_documents WHERE folder = $1 AND path = $2`,
		s.folder, filePath); err != nil {
		return fmt.Errorf("delete document for %s: %w", filePath, err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, file_path, start_line, end_line, content, hash, embedding, updated_at,
				1 - (embedding <=> $1) AS score
			FROM semdex_chunks
			WHERE folder = $2
			ORDER BY embedding <=> $1
			LIMIT $3`,
		pgvector.NewVector(queryVector), s.folder, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			c     Chunk
			vec   pgvector.Vector
			score float32
		)
		if err := rows.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine,
			&c.Content, &c.Hash, &vec, &c.UpdatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		c.Vector = vec.Slice()
		results = append(results, SearchResult{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, filePath string) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx,
		`SELECT path, hash, mod_time, chunk_ids
			FROM semdex_documents WHERE folder = $1 AND path = $2`,
		s.folder, filePath).Scan(&doc.Path, &doc.Hash, &doc.ModTime, &doc.ChunkIDs)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", filePath, err)
	}
	return &doc, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO semdex_documents (folder, path, hash, mod_time, chunk_ids)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (folder, path) DO UPDATE SET
				hash = EXCLUDED.hash,
				mod_time = EXCLUDED.mod_time,
				chunk_ids = EXCLUDED.chunk_ids`,
		s.folder, doc.Path, doc.Hash, doc.ModTime, doc.ChunkIDs)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.Path, err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path FROM semdex_documents WHERE folder = $1 ORDER BY path`, s.folder)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *PostgresStore) GetAllChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, file_path, start_line, end_line, content, hash, embedding, updated_at
			FROM semdex_chunks WHERE folder = $1`, s.folder)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c   Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine,
			&c.Content, &c.Hash, &vec, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Vector = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap lifecycle.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM semdex_snapshots WHERE folder = $1`, s.folder); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	for path, rec := range snap {
		if _, err := tx.Exec(ctx,
			`INSERT INTO semdex_snapshots (folder, path, size, mod_time, hash)
				VALUES ($1, $2, $3, $4, $5)`,
			s.folder, path, rec.Size, rec.ModTime, rec.Hash); err != nil {
			return fmt.Errorf("save snapshot entry %s: %w", path, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, size, mod_time, hash FROM semdex_snapshots WHERE folder = $1`, s.folder)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	snap := make(lifecycle.Snapshot)
	for rows.Next() {
		var rec lifecycle.FileRecord
		if err := rows.Scan(&rec.Path, &rec.Size, &rec.ModTime, &rec.Hash); err != nil {
			return nil, err
		}
		snap[rec.Path] = rec
	}
	return snap, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{}
	var lastUpdated *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM semdex_documents WHERE folder = $1),
			(SELECT count(*) FROM semdex_chunks WHERE folder = $1),
			(SELECT max(updated_at) FROM semdex_chunks WHERE folder = $1)`,
		s.folder).Scan(&stats.TotalFiles, &stats.TotalChunks, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	if lastUpdated != nil {
		stats.LastUpdated = *lastUpdated
	}
	return stats, nil
}

// Load is a no-op: Postgres state is always live.
func (s *PostgresStore) Load(ctx context.Context) error { return nil }

// Persist is a no-op: writes go through on every call.
func (s *PostgresStore) Persist(ctx context.Context) error { return nil }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
