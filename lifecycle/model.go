// Package lifecycle implements the per-folder indexing lifecycle: a state
// machine over the folder's convergence phases, a retrying task queue for
// embedding work, a progress throttler, and the orchestrator that drives
// the scan -> build tasks -> index -> converge loop for one watched folder.
//
// Each folder gets its own Orchestrator instance with no shared mutable
// state across folders. The FolderManager owns one Orchestrator per
// registered folder and forwards filesystem notifications to it.
package lifecycle

import (
	"context"
	"time"
)

// FolderStatus is the lifecycle phase of a watched folder.
type FolderStatus string

const (
	// StatusScanning means the folder is being compared against its last
	// recorded snapshot. This is the initial status.
	StatusScanning FolderStatus = "scanning"

	// StatusIndexing means embedding tasks derived from the last scan are
	// being executed.
	StatusIndexing FolderStatus = "indexing"

	// StatusActive means the index matches the filesystem and the folder is
	// waiting for change notifications.
	StatusActive FolderStatus = "active"

	// StatusError means a folder-level failure occurred (unreadable root,
	// fatal executor condition). Task dispatch is halted until a new scan
	// is triggered.
	StatusError FolderStatus = "error"
)

// TaskType identifies the kind of embedding work a task performs.
type TaskType string

const (
	TaskCreateEmbeddings TaskType = "create"
	TaskUpdateEmbeddings TaskType = "update"
	TaskRemoveEmbeddings TaskType = "remove"
)

// TaskStatus is the execution state of a single file embedding task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskSuccess    TaskStatus = "success"
	TaskError      TaskStatus = "error"
)

// FileTask is one unit of embedding work tied to one file and one change
// type. Tasks are created at the end of a scan pass and dropped once
// terminally resolved; they are never persisted across restarts.
type FileTask struct {
	ID           string
	File         string
	Type         TaskType
	Status       TaskStatus
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time

	// availableAt gates dequeue of a retried task until its backoff window
	// has elapsed. Zero means immediately available.
	availableAt time.Time
}

// Terminal reports whether no further state change will occur for the task:
// success, or error with retries exhausted.
func (t *FileTask) Terminal() bool {
	return t.Status == TaskSuccess || t.Status == TaskError
}

// Progress is an aggregate snapshot of a folder's task set. Percentage is
// always recomputed from the task counts, never mutated independently.
type Progress struct {
	TotalTasks      int `json:"total_tasks"`
	CompletedTasks  int `json:"completed_tasks"`
	FailedTasks     int `json:"failed_tasks"`
	InProgressTasks int `json:"in_progress_tasks"`
	Percentage      int `json:"percentage"`
}

// QueueStatistics counts tasks by status. Retrying counts tasks that failed
// but are still inside their backoff window: not yet terminally failed and
// not yet re-available for dequeue.
type QueueStatistics struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Retrying   int `json:"retrying"`
}

// ChangeType classifies a filesystem difference found by a scan.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// FileChange describes one changed file in a scan result.
type FileChange struct {
	Path       string
	Type       ChangeType
	Size       int64
	ModTime    time.Time
	Hash       string // optional content hash, empty when not computed
}

// FileRecord is one entry of a folder snapshot, used to detect changes on
// the next scan pass.
type FileRecord struct {
	Path    string
	Size    int64
	ModTime time.Time
	Hash    string
}

// Snapshot maps relative file paths to their last recorded state.
type Snapshot map[string]FileRecord

// ScanResult is the classified diff between a folder's current listing and
// the previous snapshot. Unchanged entries are omitted.
type ScanResult struct {
	AddedFiles    []FileChange
	ModifiedFiles []FileChange
	RemovedFiles  []FileChange
	TotalFiles    int
	ScanDuration  time.Duration

	// Snapshot is the full current listing, recorded by the orchestrator as
	// the baseline for the next pass.
	Snapshot Snapshot
}

// HasChanges reports whether the scan found any difference.
func (r *ScanResult) HasChanges() bool {
	return len(r.AddedFiles)+len(r.ModifiedFiles)+len(r.RemovedFiles) > 0
}

// Changes returns all changed files in added, modified, removed order.
func (r *ScanResult) Changes() []FileChange {
	changes := make([]FileChange, 0, len(r.AddedFiles)+len(r.ModifiedFiles)+len(r.RemovedFiles))
	changes = append(changes, r.AddedFiles...)
	changes = append(changes, r.ModifiedFiles...)
	changes = append(changes, r.RemovedFiles...)
	return changes
}

// TaskResult is the outcome of one executor invocation. Fatal marks a
// non-retryable condition that fails the whole folder rather than the task.
type TaskResult struct {
	TaskID  string
	Success bool
	Err     error
	Fatal   bool
}

// EventKind distinguishes state transitions from progress updates on the
// status channel.
type EventKind string

const (
	EventStateChange EventKind = "state"
	EventProgress    EventKind = "progress"
)

// Event is a throttled status notification delivered to the StatusSink.
// Terminal events (reaching active or error, and disposal) bypass the
// throttle window so observers never miss a final state.
type Event struct {
	Kind         EventKind
	FolderID     string
	FolderPath   string
	Status       FolderStatus
	Progress     Progress
	ErrorMessage string
	Terminal     bool
	Disposed     bool
	Timestamp    time.Time
}

// FolderState is a point-in-time view of a folder's lifecycle, exposed for
// status reporting.
type FolderState struct {
	FolderID           string          `json:"folder_id"`
	FolderPath         string          `json:"folder_path"`
	Status             FolderStatus    `json:"status"`
	LastScanStarted    time.Time       `json:"last_scan_started,omitempty"`
	LastScanCompleted  time.Time       `json:"last_scan_completed,omitempty"`
	LastIndexStarted   time.Time       `json:"last_index_started,omitempty"`
	LastIndexCompleted time.Time       `json:"last_index_completed,omitempty"`
	Progress           Progress        `json:"progress"`
	Statistics         QueueStatistics `json:"statistics"`
	ConsecutiveErrors  int             `json:"consecutive_errors"`
	ErrorMessage       string          `json:"error_message,omitempty"`
}

// ChangeDetector compares a folder against a previous snapshot and returns
// the classified diff. A folder-level error (unreadable root) fails the
// whole scan, not individual files.
type ChangeDetector interface {
	Scan(ctx context.Context, folderPath string, previous Snapshot) (*ScanResult, error)
}

// TaskExecutor performs the embedding work for one task: content
// extraction, embedding generation, and persistence. The lifecycle core
// never inspects any of that; it only observes the result.
type TaskExecutor interface {
	Execute(ctx context.Context, task FileTask) TaskResult
}

// StatusSink receives throttled state and progress events. Implementations
// must tolerate concurrent calls from many folders and must not block.
type StatusSink interface {
	OnStateChange(event Event)
	OnProgress(event Event)
}

// ErrorRecovery selects how a folder leaves the error status.
type ErrorRecovery string

const (
	// RecoverAuto schedules a return to scanning after a backoff tied to
	// the folder's consecutive error count.
	RecoverAuto ErrorRecovery = "auto"

	// RecoverManual waits for an explicit Recover call.
	RecoverManual ErrorRecovery = "manual"
)

// Config tunes a folder's lifecycle behavior.
type Config struct {
	MaxRetries         int
	RetryDelay         time.Duration
	MaxConcurrentTasks int
	ProgressThrottle   time.Duration
	ScanInterval       time.Duration // rescan debounce quiet period
	ErrorRecovery      ErrorRecovery
	ErrorRetryBase     time.Duration // base backoff for auto recovery
}

// DefaultConfig returns the lifecycle defaults used when a folder has no
// explicit configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryDelay:         time.Second,
		MaxConcurrentTasks: 4,
		ProgressThrottle:   500 * time.Millisecond,
		ScanInterval:       time.Second,
		ErrorRecovery:      RecoverManual,
		ErrorRetryBase:     5 * time.Second,
	}
}
