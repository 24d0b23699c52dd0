// Package fileutil holds small filesystem helpers shared by the store
// backends: atomic file replacement and cross-process advisory locks.
package fileutil

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the parent directories of path if missing.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// ReplaceFileAtomically renames tempPath over targetPath. When a direct
// rename fails (some filesystems reject rename onto an existing file),
// the target is removed first and the rename retried.
func ReplaceFileAtomically(tempPath, targetPath string) error {
	if err := os.Rename(tempPath, targetPath); err == nil {
		return nil
	}

	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return os.Rename(tempPath, targetPath)
}
