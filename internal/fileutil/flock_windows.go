//go:build windows
// +build windows

package fileutil

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32    = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx = modkernel32.NewProc("LockFileEx")
	procUnlockFile = modkernel32.NewProc("UnlockFileEx")
)

const (
	winLockfileExclusiveLock   = 0x00000002
	winLockfileFailImmediately = 0x00000001
)

// FlockExclusive takes a write lock on f via LockFileEx. With nonBlocking
// set it fails immediately when another process holds the lock.
func FlockExclusive(f *os.File, nonBlocking bool) error {
	flags := uintptr(winLockfileExclusiveLock)
	if nonBlocking {
		flags |= winLockfileFailImmediately
	}
	var overlapped syscall.Overlapped
	ret, _, err := procLockFileEx.Call(
		f.Fd(),
		flags,
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if ret == 0 {
		return fmt.Errorf("acquire exclusive lock: %w", err)
	}
	return nil
}

// FlockShared takes a read lock on f. LockFileEx without the exclusive
// flag grants a shared lock.
func FlockShared(f *os.File, nonBlocking bool) error {
	flags := uintptr(0)
	if nonBlocking {
		flags |= winLockfileFailImmediately
	}
	var overlapped syscall.Overlapped
	ret, _, err := procLockFileEx.Call(
		f.Fd(),
		flags,
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if ret == 0 {
		return fmt.Errorf("acquire shared lock: %w", err)
	}
	return nil
}

// Funlock releases the lock held on f.
func Funlock(f *os.File) error {
	var overlapped syscall.Overlapped
	ret, _, err := procUnlockFile.Call(
		f.Fd(),
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if ret == 0 {
		return fmt.Errorf("unlock file: %w", err)
	}
	return nil
}
