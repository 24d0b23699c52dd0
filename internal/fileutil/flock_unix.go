//go:build !windows
// +build !windows

package fileutil

import (
	"fmt"
	"os"
	"syscall"
)

// FlockExclusive takes a write lock on f via flock(2). With nonBlocking
// set it fails immediately when another process holds the lock.
func FlockExclusive(f *os.File, nonBlocking bool) error {
	flags := syscall.LOCK_EX
	if nonBlocking {
		flags |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(f.Fd()), flags); err != nil {
		return fmt.Errorf("acquire exclusive lock: %w", err)
	}
	return nil
}

// FlockShared takes a read lock on f. Multiple readers may hold the lock
// at once.
func FlockShared(f *os.File, nonBlocking bool) error {
	flags := syscall.LOCK_SH
	if nonBlocking {
		flags |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(f.Fd()), flags); err != nil {
		return fmt.Errorf("acquire shared lock: %w", err)
	}
	return nil
}

// Funlock releases the lock held on f.
func Funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
