// Package daemon manages the background watch process: PID files,
// ready markers, and spawning a detached copy of the current binary.
//
// The PID file holds a single decimal process ID. Writes are serialized
// with a lock file so two `semdex watch --background` invocations cannot
// both believe they started the daemon.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const (
	pidFileName   = "semdex-watch.pid"
	logFileName   = "semdex-watch.log"
	readyFileName = "semdex-watch.ready"

	// BackgroundEnv is set in the child's environment so it can tell it
	// was spawned by SpawnBackground rather than run interactively.
	BackgroundEnv = "SEMDEX_BACKGROUND"
)

// GetDefaultLogDir returns the OS-specific directory for daemon state:
// PID file, ready marker, and the background process log.
//
//   - Linux:   $XDG_STATE_HOME/semdex/logs or ~/.local/state/semdex/logs
//   - macOS:   ~/Library/Logs/semdex
//   - Windows: %LOCALAPPDATA%\semdex\logs
//
// The directory may not exist yet; callers create it as needed.
func GetDefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", "semdex"), nil
	case "windows":
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, "semdex", "logs"), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", "semdex", "logs"), nil
	default:
		if base := os.Getenv("XDG_STATE_HOME"); base != "" {
			return filepath.Join(base, "semdex", "logs"), nil
		}
		return filepath.Join(homeDir, ".local", "state", "semdex", "logs"), nil
	}
}

// WritePIDFile records the current process ID under logDir.
//
// An exclusive lock on a sidecar .lock file guards against two daemons
// starting at once. The lock is held for the lifetime of the process and
// released by the OS on exit, so the file handle is intentionally leaked.
func WritePIDFile(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	pidPath := filepath.Join(logDir, pidFileName)
	lockPath := pidPath + ".lock"

	lockFh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := lockFile(lockFh); err != nil {
		lockFh.Close()
		return fmt.Errorf("another semdex watch process is starting (lock held)")
	}

	// Write via temp file + rename so readers never see a partial PID.
	content := fmt.Sprintf("%d\n", os.Getpid())
	tmpPath := pidPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(content), 0600); err != nil {
		lockFh.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := os.Rename(tmpPath, pidPath); err != nil {
		os.Remove(tmpPath)
		lockFh.Close()
		return fmt.Errorf("failed to rename PID file: %w", err)
	}

	return nil
}

// ReadPIDFile returns the PID recorded under logDir.
//
// A missing PID file is not an error: (0, nil) means no daemon has been
// started. The process is not checked for liveness; use GetRunningPID for
// that.
func ReadPIDFile(logDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(logDir, pidFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file and its lock file.
func RemovePIDFile(logDir string) error {
	pidPath := filepath.Join(logDir, pidFileName)

	_ = os.Remove(pidPath + ".lock")

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetRunningPID returns the PID of the live daemon, or 0 if none is
// running. Stale PID files (process gone) are cleaned up on the way.
func GetRunningPID(logDir string) (int, error) {
	pid, err := ReadPIDFile(logDir)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, nil
	}

	if !IsProcessRunning(pid) {
		_ = RemovePIDFile(logDir)
		return 0, nil
	}

	return pid, nil
}

// WriteReadyFile drops the ready marker. The daemon calls this once its
// stores and embedder are initialized and the first scan has been queued,
// so a foreground caller can tell startup succeeded.
func WriteReadyFile(logDir string) error {
	readyPath := filepath.Join(logDir, readyFileName)
	content := fmt.Sprintf("ready\n%d\n", os.Getpid())
	if err := os.WriteFile(readyPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

// RemoveReadyFile removes the ready marker.
func RemoveReadyFile(logDir string) error {
	readyPath := filepath.Join(logDir, readyFileName)
	if err := os.Remove(readyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove ready file: %w", err)
	}
	return nil
}

// IsReady reports whether the ready marker exists.
func IsReady(logDir string) bool {
	_, err := os.Stat(filepath.Join(logDir, readyFileName))
	return err == nil
}

// SpawnBackground re-executes the current binary detached from the
// terminal, with stdout/stderr appended to the daemon log and
// SEMDEX_BACKGROUND=1 in the environment.
//
// Args are passed to the child verbatim, e.g. []string{"watch"}.
//
// The returned channel is closed when the child exits. Callers use it to
// catch children that die during startup; kill(0) alone cannot tell a
// zombie from a live process.
func SpawnBackground(logDir string, args []string) (int, <-chan struct{}, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return 0, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	logPath := filepath.Join(logDir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	liveness, err := newLivenessCheck()
	if err != nil {
		logFile.Close()
		return 0, nil, err
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), BackgroundEnv+"=1")
	cmd.SysProcAttr = sysProcAttr()
	liveness.configureCmd(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		liveness.cleanup()
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}

	logFile.Close()
	exitCh := liveness.start(cmd.Process.Pid)

	return cmd.Process.Pid, exitCh, nil
}

// LogFilePath returns the path of the daemon log under logDir.
func LogFilePath(logDir string) string {
	return filepath.Join(logDir, logFileName)
}

// IsProcessRunning reports whether a process with the given PID exists.
// Platform-specific implementations live in daemon_unix.go and
// daemon_windows.go.

// StopProcess asks the process with the given PID to shut down.
//
// On Unix this sends SIGINT. On Windows it writes a sentinel stop file
// that the daemon polls for, since cross-console interrupts are not
// supported there. It returns without waiting; poll IsProcessRunning to
// confirm the process is gone.

// StopChannel returns a channel closed when a stop request is detected.
// On Unix the channel never fires (os/signal covers shutdown); on Windows
// it watches for the sentinel stop file. Select on it alongside the
// signal handler.
