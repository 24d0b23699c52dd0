// Package scanner walks a folder tree and diffs it against the previous
// snapshot to classify files as added, modified, or removed.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/semdex/semdex/lifecycle"
)

// Directories skipped unconditionally, independent of ignore patterns.
var alwaysSkipDirs = map[string]bool{
	".git":    true,
	".semdex": true,
}

// Options control a Scanner's walk behavior.
type Options struct {
	// IgnorePatterns are gitignore-syntax patterns applied on top of the
	// folder's .semdexignore file.
	IgnorePatterns []string
	// HashContent enables sha256 content hashing for change detection.
	// When false, size plus modification time decide whether a file changed.
	HashContent bool
	// MaxFileSize skips files larger than this many bytes. Zero means no limit.
	MaxFileSize int64
	// IncludeExtensions restricts scanning to the given extensions (with
	// leading dot, e.g. ".go"). Empty means all regular files.
	IncludeExtensions []string
}

// Scanner implements lifecycle.ChangeDetector for on-disk folders.
type Scanner struct {
	opts Options
	exts map[string]bool
}

func New(opts Options) *Scanner {
	s := &Scanner{opts: opts}
	if len(opts.IncludeExtensions) > 0 {
		s.exts = make(map[string]bool, len(opts.IncludeExtensions))
		for _, ext := range opts.IncludeExtensions {
			s.exts[strings.ToLower(ext)] = true
		}
	}
	return s
}

// Scan walks folderPath, compares what it finds against previous, and
// returns the classified changes along with a fresh snapshot. An
// inaccessible root is a folder-level error; individual unreadable files
// are skipped.
func (s *Scanner) Scan(ctx context.Context, folderPath string, previous lifecycle.Snapshot) (*lifecycle.ScanResult, error) {
	start := time.Now()

	info, err := os.Stat(folderPath)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", folderPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", folderPath)
	}

	matcher, err := NewIgnoreMatcher(folderPath, s.opts.IgnorePatterns)
	if err != nil {
		return nil, fmt.Errorf("scan %s: compile ignore patterns: %w", folderPath, err)
	}

	current := make(lifecycle.Snapshot)

	walkErr := filepath.WalkDir(folderPath, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == folderPath {
				return err
			}
			// Unreadable subtree: skip, keep scanning.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(folderPath, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if alwaysSkipDirs[d.Name()] || matcher.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matcher.ShouldIgnore(rel) {
			return nil
		}
		if s.exts != nil && !s.exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if s.opts.MaxFileSize > 0 && fi.Size() > s.opts.MaxFileSize {
			return nil
		}

		rec := lifecycle.FileRecord{
			Path:    rel,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		}
		if s.opts.HashContent {
			hash, err := hashFile(path)
			if err != nil {
				return nil
			}
			rec.Hash = hash
		}
		current[rel] = rec
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scan %s: %w", folderPath, walkErr)
	}

	result := &lifecycle.ScanResult{
		TotalFiles: len(current),
		Snapshot:   current,
	}

	for rel, rec := range current {
		prev, ok := previous[rel]
		if !ok {
			result.AddedFiles = append(result.AddedFiles, asChange(rec, lifecycle.ChangeAdded))
			continue
		}
		if s.changed(prev, rec) {
			result.ModifiedFiles = append(result.ModifiedFiles, asChange(rec, lifecycle.ChangeModified))
		}
	}
	for rel, prev := range previous {
		if _, ok := current[rel]; !ok {
			result.RemovedFiles = append(result.RemovedFiles, asChange(prev, lifecycle.ChangeRemoved))
		}
	}

	for _, changes := range [][]lifecycle.FileChange{result.AddedFiles, result.ModifiedFiles, result.RemovedFiles} {
		sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	}

	result.ScanDuration = time.Since(start)
	return result, nil
}

func asChange(rec lifecycle.FileRecord, kind lifecycle.ChangeType) lifecycle.FileChange {
	return lifecycle.FileChange{
		Path:    rec.Path,
		Type:    kind,
		Size:    rec.Size,
		ModTime: rec.ModTime,
		Hash:    rec.Hash,
	}
}

func (s *Scanner) changed(prev, cur lifecycle.FileRecord) bool {
	if s.opts.HashContent && prev.Hash != "" && cur.Hash != "" {
		return prev.Hash != cur.Hash
	}
	return prev.Size != cur.Size || !prev.ModTime.Equal(cur.ModTime)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
