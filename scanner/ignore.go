package scanner

import (
	"os"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the per-folder exclusion file, gitignore syntax.
const IgnoreFileName = ".semdexignore"

// IgnoreMatcher decides which entries a scan pass excludes. Patterns come
// from the folder's .semdexignore file (if present) plus the configured
// ignore list, both in gitignore syntax.
type IgnoreMatcher struct {
	folderRoot string
	file       *ignore.GitIgnore // from .semdexignore, nil when absent
	extra      *ignore.GitIgnore // from config patterns, nil when empty
	extraDirs  []string
}

// NewIgnoreMatcher builds a matcher for one folder root. A missing
// .semdexignore is not an error.
func NewIgnoreMatcher(folderRoot string, extraIgnore []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{
		folderRoot: folderRoot,
		extraDirs:  extraIgnore,
	}

	ignorePath := filepath.Join(folderRoot, IgnoreFileName)
	if _, err := os.Stat(ignorePath); err == nil {
		gi, err := ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, err
		}
		m.file = gi
	}

	if len(extraIgnore) > 0 {
		m.extra = ignore.CompileIgnoreLines(extraIgnore...)
	}

	return m, nil
}

// ShouldIgnore reports whether the relative path is excluded from scanning.
func (m *IgnoreMatcher) ShouldIgnore(relPath string) bool {
	normalized := filepath.ToSlash(relPath)

	// Directory-name matches from the config list apply at any depth.
	base := filepath.Base(normalized)
	for _, dir := range m.extraDirs {
		if base == dir {
			return true
		}
	}

	if m.extra != nil && (m.extra.MatchesPath(normalized) || m.extra.MatchesPath(normalized+"/")) {
		return true
	}
	if m.file != nil && (m.file.MatchesPath(normalized) || m.file.MatchesPath(normalized+"/")) {
		return true
	}
	return false
}
