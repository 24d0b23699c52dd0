//go:build !windows
// +build !windows

package daemon

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// IsProcessRunning reports whether a process with the given PID exists.
// Signal 0 probes the process without delivering anything.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

// lockFile takes a non-blocking exclusive flock on f. The lock rides on
// the open file descriptor and is released by the OS when the process
// exits.
func lockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// sysProcAttr detaches the child from the parent's process group so a
// Ctrl-C in the spawning terminal does not kill the daemon.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// livenessCheck detects child exit through a pipe. The write end is
// inherited by the child; when the child exits the kernel closes its FDs
// and the parent's read end sees EOF. Works regardless of zombie state or
// process group.
type livenessCheck struct {
	pr, pw *os.File
}

func newLivenessCheck() (*livenessCheck, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create liveness pipe: %w", err)
	}
	return &livenessCheck{pr: pr, pw: pw}, nil
}

func (l *livenessCheck) configureCmd(cmd *exec.Cmd) {
	cmd.ExtraFiles = []*os.File{l.pw}
}

// start closes the parent's write end and begins monitoring. The
// returned channel is closed when the child exits.
func (l *livenessCheck) start(_ int) <-chan struct{} {
	l.pw.Close()
	ch := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		if _, err := l.pr.Read(buf); err != nil && err != io.EOF {
			// Any unblocking of the read means the child is gone.
			_ = err
		}
		l.pr.Close()
		close(ch)
	}()
	return ch
}

func (l *livenessCheck) cleanup() {
	l.pr.Close()
	l.pw.Close()
}

// StopProcess sends SIGINT to the process with the given PID.
func StopProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("failed to send interrupt signal: %w", err)
	}

	return nil
}

// StopChannel returns a channel that never fires on Unix; shutdown is
// driven by os/signal.
func StopChannel() <-chan struct{} {
	return make(chan struct{})
}
