package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRecoveryBackoff caps the automatic error-recovery delay regardless of
// how many consecutive failures a folder has accumulated.
const maxRecoveryBackoff = 5 * time.Minute

// Orchestrator drives the scan -> build tasks -> index -> converge loop for
// one watched folder. It owns the folder's state machine, task queue,
// progress throttler and all timers, and is the only lifecycle component
// with asynchronous side effects.
//
// Completion of the indexing phase is gated on an explicit registry of
// outstanding task handles, populated before any task is dispatched. The
// queue's pending count alone is never consulted for completion: it can be
// transiently zero while a retry sits in its backoff window.
type Orchestrator struct {
	folderID   string
	folderPath string
	cfg        Config
	detector   ChangeDetector
	executor   TaskExecutor
	queue      *TaskQueue
	throttler  *ProgressThrottler
	sm         *StateMachine

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	snapshot           Snapshot
	handles            map[string]struct{}
	rescanPending      bool
	scanInFlight       bool
	consecutiveErrors  int
	errorMessage       string
	lastScanStarted    time.Time
	lastScanCompleted  time.Time
	lastIndexStarted   time.Time
	lastIndexCompleted time.Time
	disposed           bool

	rescanTimer  *resetTimer
	recoverTimer *resetTimer
}

// NewOrchestrator creates the lifecycle orchestrator for one folder. The
// sink receives throttled status events; it must not call back into the
// orchestrator synchronously.
func NewOrchestrator(folderID, folderPath string, cfg Config, detector ChangeDetector, executor TaskExecutor, sink StatusSink) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		folderID:   folderID,
		folderPath: folderPath,
		cfg:        cfg,
		detector:   detector,
		executor:   executor,
		queue:      NewTaskQueue(cfg.MaxConcurrentTasks, cfg.RetryDelay),
		throttler:  NewProgressThrottler(cfg.ProgressThrottle, sink),
		sm:         NewStateMachine(),
		ctx:        ctx,
		cancel:     cancel,
		handles:    make(map[string]struct{}),
	}
	o.rescanTimer = newResetTimer(o.runScan)
	o.recoverTimer = newResetTimer(o.runScan)
	o.queue.OnRetryAvailable(o.dispatch)
	return o
}

// StartScanning begins the first convergence pass. It returns immediately;
// the scan runs asynchronously.
func (o *Orchestrator) StartScanning() {
	go o.runScan()
}

// OnFileSystemChange reacts to raw watcher notifications. While active, the
// rescan debounce timer resets on every burst and a scan starts only after
// the quiet period elapses. Notifications arriving mid-scan or mid-index
// are coalesced into exactly one follow-up scan after the current pass
// completes; they never interrupt it.
func (o *Orchestrator) OnFileSystemChange(paths []string) {
	if len(paths) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return
	}
	switch o.sm.Current() {
	case StatusActive:
		o.rescanTimer.Reset(o.cfg.ScanInterval)
	default:
		// Scanning, indexing, or error: buffer for one follow-up pass.
		o.rescanPending = true
	}
}

// Recover returns an errored folder to scanning. It reports whether a new
// pass was started; it does nothing unless the folder is in error status.
func (o *Orchestrator) Recover() bool {
	o.mu.Lock()
	if o.disposed || o.sm.Current() != StatusError {
		o.mu.Unlock()
		return false
	}
	o.recoverTimer.Stop()
	o.mu.Unlock()
	go o.runScan()
	return true
}

// CurrentState returns the folder's lifecycle status.
func (o *Orchestrator) CurrentState() FolderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sm.Current()
}

// GetProgress returns the folder's progress snapshot, derived from the
// current task set.
func (o *Orchestrator) GetProgress() Progress {
	return o.queue.Progress()
}

// State returns a point-in-time view of the folder's lifecycle.
func (o *Orchestrator) State() FolderState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return FolderState{
		FolderID:           o.folderID,
		FolderPath:         o.folderPath,
		Status:             o.sm.Current(),
		LastScanStarted:    o.lastScanStarted,
		LastScanCompleted:  o.lastScanCompleted,
		LastIndexStarted:   o.lastIndexStarted,
		LastIndexCompleted: o.lastIndexCompleted,
		Progress:           o.queue.Progress(),
		Statistics:         o.queue.GetStatistics(),
		ConsecutiveErrors:  o.consecutiveErrors,
		ErrorMessage:       o.errorMessage,
	}
}

// Tasks returns copies of the current pass's embedding tasks.
func (o *Orchestrator) Tasks() []FileTask {
	return o.queue.GetAllTasks()
}

// Dispose cancels all timers, abandons in-flight executor calls (late
// results are discarded), releases the task queue, and reports a final
// disposal event through the throttler's immediate-flush path.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	o.rescanTimer.Stop()
	o.recoverTimer.Stop()
	o.queue.Close()
	o.cancel()
	event := o.terminalEventLocked()
	event.Disposed = true
	o.mu.Unlock()

	o.throttler.Report(event)
	o.throttler.Close()
}

// runScan performs one full convergence pass: scan, and either go straight
// to active (no changes) or enqueue one task per changed file and enter
// indexing. It is invoked from StartScanning, the rescan debounce timer,
// the recovery timer, buffered follow-up scans and Recover.
func (o *Orchestrator) runScan() {
	o.mu.Lock()
	if o.disposed || o.scanInFlight {
		o.mu.Unlock()
		return
	}
	if o.sm.Current() != StatusScanning && !o.sm.TransitionTo(StatusScanning) {
		o.mu.Unlock()
		return
	}
	o.scanInFlight = true
	o.errorMessage = ""
	o.lastScanStarted = time.Now()
	o.queue.ClearAll()
	o.handles = make(map[string]struct{})
	previous := o.snapshot
	o.throttler.Report(o.eventLocked(EventStateChange))
	o.mu.Unlock()

	result, err := o.detector.Scan(o.ctx, o.folderPath, previous)

	// Terminal events reach the sink synchronously; deliver after the lock
	// is released so a slow sink cannot wedge the folder. Deferred funcs run
	// LIFO: the unlock below fires before this report does.
	var terminal *Event
	defer func() {
		if terminal != nil {
			o.throttler.Report(*terminal)
		}
	}()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.scanInFlight = false
	if o.disposed {
		return
	}
	if err != nil {
		terminal = o.enterErrorLocked(fmt.Sprintf("scan failed: %v", err))
		return
	}
	o.lastScanCompleted = time.Now()
	o.snapshot = result.Snapshot

	if !result.HasChanges() {
		// Nothing to index: shortcut directly to active.
		o.sm.TransitionTo(StatusActive)
		o.consecutiveErrors = 0
		event := o.terminalEventLocked()
		terminal = &event
		o.finishPassLocked()
		return
	}

	tasks := buildTasks(result, o.cfg.MaxRetries)
	// Register every completion handle before anything is dispatched.
	// Completion is later decided by this registry reaching zero, so a
	// handle registered after dispatch could race a fast callback and
	// report the folder active while work is still outstanding.
	for _, t := range tasks {
		o.handles[t.ID] = struct{}{}
	}
	o.queue.AddTasks(tasks)
	o.sm.TransitionTo(StatusIndexing)
	o.lastIndexStarted = time.Now()
	o.throttler.Report(o.eventLocked(EventStateChange))
	o.dispatchLocked()
}

// buildTasks converts a scan diff into one typed, idempotent task per
// changed file.
func buildTasks(result *ScanResult, maxRetries int) []FileTask {
	now := time.Now()
	tasks := make([]FileTask, 0, len(result.AddedFiles)+len(result.ModifiedFiles)+len(result.RemovedFiles))
	add := func(change FileChange, taskType TaskType) {
		tasks = append(tasks, FileTask{
			ID:         uuid.NewString(),
			File:       change.Path,
			Type:       taskType,
			Status:     TaskPending,
			MaxRetries: maxRetries,
			CreatedAt:  now,
		})
	}
	for _, c := range result.AddedFiles {
		add(c, TaskCreateEmbeddings)
	}
	for _, c := range result.ModifiedFiles {
		add(c, TaskUpdateEmbeddings)
	}
	for _, c := range result.RemovedFiles {
		add(c, TaskRemoveEmbeddings)
	}
	return tasks
}

// dispatch fills free executor slots. Invoked after enqueueing, after each
// completion, and when a retry's backoff window elapses.
func (o *Orchestrator) dispatch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatchLocked()
}

func (o *Orchestrator) dispatchLocked() {
	if o.disposed || o.sm.Current() != StatusIndexing {
		return
	}
	for {
		task := o.queue.GetNextTask()
		if task == nil {
			return
		}
		go o.execute(*task)
	}
}

func (o *Orchestrator) execute(task FileTask) {
	result := o.executor.Execute(o.ctx, task)
	o.onTaskResult(task.ID, result)
}

// onTaskResult handles one executor completion callback: record the
// outcome, drop the handle if the task is terminal, and transition to
// active once no handles remain outstanding.
func (o *Orchestrator) onTaskResult(taskID string, result TaskResult) {
	var terminal *Event
	defer func() {
		if terminal != nil {
			o.throttler.Report(*terminal)
		}
	}()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed || o.sm.Current() != StatusIndexing {
		// Late result from an abandoned or superseded pass.
		return
	}

	if result.Fatal {
		msg := "executor reported a fatal condition"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		terminal = o.enterErrorLocked(msg)
		return
	}

	if result.Success {
		o.queue.UpdateTaskStatus(taskID, TaskSuccess, "")
	} else {
		msg := "task failed"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		o.queue.UpdateTaskStatus(taskID, TaskError, msg)
	}

	if task, ok := o.queue.GetTaskByID(taskID); ok && task.Terminal() {
		delete(o.handles, taskID)
	}

	// Identity transition: acknowledges the progress update without being
	// treated as a rejected no-op.
	o.sm.TransitionTo(StatusIndexing)
	o.throttler.Report(o.eventLocked(EventProgress))

	if len(o.handles) == 0 {
		o.sm.TransitionTo(StatusActive)
		o.lastIndexCompleted = time.Now()
		o.consecutiveErrors = 0
		event := o.terminalEventLocked()
		terminal = &event
		o.finishPassLocked()
		return
	}
	o.dispatchLocked()
}

// finishPassLocked starts the single buffered follow-up scan, if
// notifications arrived while the pass that just ended was running.
func (o *Orchestrator) finishPassLocked() {
	if !o.rescanPending {
		return
	}
	o.rescanPending = false
	go o.runScan()
}

// enterErrorLocked records a folder-level failure: message, consecutive
// error count, halt of task dispatch, and — when auto recovery is
// configured — a backed-off return to scanning. It returns the terminal
// event for the caller to deliver once the lock is released, or nil when
// the transition was rejected.
func (o *Orchestrator) enterErrorLocked(message string) *Event {
	if !o.sm.TransitionTo(StatusError) {
		return nil
	}
	o.errorMessage = message
	o.consecutiveErrors++
	o.queue.ClearAll()
	o.handles = make(map[string]struct{})
	event := o.terminalEventLocked()

	if o.cfg.ErrorRecovery == RecoverAuto {
		backoff := o.cfg.ErrorRetryBase << uint(o.consecutiveErrors-1)
		if backoff > maxRecoveryBackoff || backoff <= 0 {
			backoff = maxRecoveryBackoff
		}
		o.recoverTimer.Reset(backoff)
	}
	return &event
}

func (o *Orchestrator) eventLocked(kind EventKind) Event {
	return Event{
		Kind:         kind,
		FolderID:     o.folderID,
		FolderPath:   o.folderPath,
		Status:       o.sm.Current(),
		Progress:     o.queue.Progress(),
		ErrorMessage: o.errorMessage,
		Timestamp:    time.Now(),
	}
}

// terminalEventLocked builds the immediate-flush event for reaching a
// terminal status. Callers deliver it to the throttler only after o.mu is
// released: terminal events bypass the throttle window and hit the sink
// synchronously, and the sink must never be able to block the folder.
func (o *Orchestrator) terminalEventLocked() Event {
	event := o.eventLocked(EventStateChange)
	event.Terminal = true
	return event
}
