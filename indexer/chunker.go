package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk size in tokens.
	DefaultChunkSize = 512
	// DefaultChunkOverlap is the overlap between consecutive chunks, in tokens.
	DefaultChunkOverlap = 50
	// CharsPerToken approximates the byte cost of one token for sizing.
	CharsPerToken = 4
)

// ChunkInfo is one slice of a file ready for embedding.
type ChunkInfo struct {
	ID        string
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Hash      string
}

// Chunker splits file content into overlapping, line-aware chunks.
type Chunker struct {
	chunkSize int
	overlap   int
}

func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }
func (c *Chunker) Overlap() int   { return c.overlap }

// Chunk splits content into chunks of at most chunkSize tokens. Splits
// prefer line boundaries; a single oversized line is cut at the byte limit,
// aligned to a rune boundary.
func (c *Chunker) Chunk(filePath, content string) []ChunkInfo {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	maxBytes := c.chunkSize * CharsPerToken
	overlapBytes := c.overlap * CharsPerToken
	lineStarts := buildLineStarts(content)

	var chunks []ChunkInfo
	start := 0
	for start < len(content) {
		end := start + maxBytes
		if end >= len(content) {
			end = len(content)
		} else {
			// Prefer cutting after the last newline in the window.
			if nl := strings.LastIndexByte(content[start:end], '\n'); nl > 0 {
				end = start + nl + 1
			} else {
				end = alignRuneBoundary(content, end)
			}
		}

		piece := content[start:end]
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, ChunkInfo{
				ID:        fmt.Sprintf("%s_%d", filePath, len(chunks)),
				FilePath:  filePath,
				StartLine: getLineNumber(lineStarts, start),
				EndLine:   getLineNumber(lineStarts, end-1),
				Content:   piece,
				Hash:      hashContent(piece),
			})
		}

		if end == len(content) {
			break
		}
		next := alignRuneBoundary(content, end-overlapBytes)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// ChunkWithContext chunks content and prefixes every chunk with the file
// path, which measurably improves retrieval for short chunks.
func (c *Chunker) ChunkWithContext(filePath, content string) []ChunkInfo {
	chunks := c.Chunk(filePath, content)
	header := "File: " + filePath + "\n\n"
	for i := range chunks {
		chunks[i].Content = header + chunks[i].Content
	}
	return chunks
}

// ReChunk splits an oversized chunk into halves of the configured size,
// keeping the file-context prefix on every piece. parentIndex keeps the
// sub-chunk IDs unique across the file.
func (c *Chunker) ReChunk(parent ChunkInfo, parentIndex int) []ChunkInfo {
	content := parent.Content
	prefix := ""
	if strings.HasPrefix(content, "File: ") {
		if idx := strings.Index(content, "\n\n"); idx >= 0 {
			prefix = content[:idx+2]
			content = content[idx+2:]
		}
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	halfSize := c.chunkSize / 2
	if halfSize < 1 {
		halfSize = 1
	}
	maxBytes := halfSize * CharsPerToken

	var subChunks []ChunkInfo
	start := 0
	for start < len(content) {
		end := start + maxBytes
		if end >= len(content) {
			end = len(content)
		} else {
			end = alignRuneBoundary(content, end)
		}

		piece := content[start:end]
		if strings.TrimSpace(piece) != "" {
			startLine := parent.StartLine + strings.Count(content[:start], "\n")
			endLine := parent.StartLine + strings.Count(content[:end], "\n")
			if endLine > parent.EndLine {
				endLine = parent.EndLine
			}
			subChunks = append(subChunks, ChunkInfo{
				ID:        fmt.Sprintf("%s_%d_%d", parent.FilePath, parentIndex, len(subChunks)),
				FilePath:  parent.FilePath,
				StartLine: startLine,
				EndLine:   endLine,
				Content:   prefix + piece,
				Hash:      parent.Hash,
			})
		}
		start = end
	}
	return subChunks
}

// buildLineStarts returns the byte offset of every line's first byte.
func buildLineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// getLineNumber returns the 1-based line containing byte position pos.
func getLineNumber(lineStarts []int, pos int) int {
	lo, hi := 0, len(lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lineStarts[mid] <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}

// alignRuneBoundary moves pos forward past any UTF-8 continuation bytes so
// slicing at pos never splits a rune.
func alignRuneBoundary(content string, pos int) int {
	for pos < len(content) && !utf8.RuneStart(content[pos]) {
		pos++
	}
	return pos
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
