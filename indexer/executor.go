// Package indexer performs the per-file work the lifecycle core schedules:
// reading a file, chunking it, embedding the chunks, and persisting them.
package indexer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/semdex/semdex/embedder"
	"github.com/semdex/semdex/lifecycle"
	"github.com/semdex/semdex/store"
)

// Executor indexes individual files for one folder. It implements
// lifecycle.TaskExecutor.
type Executor struct {
	folderPath string
	store      store.VectorStore
	embedder   embedder.Embedder
	chunker    *Chunker
}

func NewExecutor(folderPath string, st store.VectorStore, emb embedder.Embedder, chunker *Chunker) *Executor {
	return &Executor{
		folderPath: folderPath,
		store:      st,
		embedder:   emb,
		chunker:    chunker,
	}
}

// Execute runs one file task to completion and reports the outcome. Errors
// are retryable unless the task itself is malformed.
func (e *Executor) Execute(ctx context.Context, task lifecycle.FileTask) lifecycle.TaskResult {
	var err error
	switch task.Type {
	case lifecycle.TaskCreateEmbeddings, lifecycle.TaskUpdateEmbeddings:
		err = e.indexFile(ctx, task.File)
	case lifecycle.TaskRemoveEmbeddings:
		err = e.removeFile(ctx, task.File)
	default:
		return lifecycle.TaskResult{
			TaskID: task.ID,
			Err:    fmt.Errorf("unknown task type %q", task.Type),
			Fatal:  true,
		}
	}
	if err != nil {
		return lifecycle.TaskResult{TaskID: task.ID, Err: err}
	}
	return lifecycle.TaskResult{TaskID: task.ID, Success: true}
}

func (e *Executor) indexFile(ctx context.Context, relPath string) error {
	fullPath := filepath.Join(e.folderPath, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted between scan and execution; drop any stale chunks
			// and let the next scan report the removal.
			return e.removeFile(ctx, relPath)
		}
		return fmt.Errorf("read %s: %w", relPath, err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", relPath, err)
	}

	if err := e.store.DeleteByFile(ctx, relPath); err != nil {
		return fmt.Errorf("delete stale chunks for %s: %w", relPath, err)
	}

	chunkInfos := e.chunker.ChunkWithContext(relPath, string(data))
	if len(chunkInfos) == 0 {
		return e.store.SaveDocument(ctx, store.Document{
			Path:    relPath,
			Hash:    hashContent(string(data)),
			ModTime: info.ModTime(),
		})
	}

	vectors, chunkInfos, err := e.embedChunks(ctx, chunkInfos)
	if err != nil {
		return fmt.Errorf("embed %s: %w", relPath, err)
	}

	now := time.Now()
	chunks := make([]store.Chunk, len(chunkInfos))
	chunkIDs := make([]string, len(chunkInfos))
	for i, ci := range chunkInfos {
		chunks[i] = store.Chunk{
			ID:        ci.ID,
			FilePath:  ci.FilePath,
			StartLine: ci.StartLine,
			EndLine:   ci.EndLine,
			Content:   ci.Content,
			Vector:    vectors[i],
			Hash:      ci.Hash,
			UpdatedAt: now,
		}
		chunkIDs[i] = ci.ID
	}

	if err := e.store.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks for %s: %w", relPath, err)
	}
	return e.store.SaveDocument(ctx, store.Document{
		Path:     relPath,
		Hash:     hashContent(string(data)),
		ModTime:  info.ModTime(),
		ChunkIDs: chunkIDs,
	})
}

// embedChunks embeds all chunks for a file. When the provider rejects the
// batch for context length, every chunk is split in half once and the batch
// is retried.
func (e *Executor) embedChunks(ctx context.Context, chunkInfos []ChunkInfo) ([][]float32, []ChunkInfo, error) {
	contents := make([]string, len(chunkInfos))
	for i, ci := range chunkInfos {
		contents[i] = ci.Content
	}

	vectors, err := e.embedder.EmbedBatch(ctx, contents)
	if err == nil {
		return vectors, chunkInfos, nil
	}
	if !embedder.IsContextLengthError(err) {
		return nil, nil, err
	}

	log.Printf("re-chunking %s: %v", chunkInfos[0].FilePath, err)
	var split []ChunkInfo
	for i, ci := range chunkInfos {
		split = append(split, e.chunker.ReChunk(ci, i)...)
	}
	if len(split) == 0 {
		return nil, nil, err
	}

	contents = make([]string, len(split))
	for i, ci := range split {
		contents[i] = ci.Content
	}
	vectors, err = e.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, nil, err
	}
	return vectors, split, nil
}

func (e *Executor) removeFile(ctx context.Context, relPath string) error {
	if err := e.store.DeleteByFile(ctx, relPath); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", relPath, err)
	}
	return nil
}
