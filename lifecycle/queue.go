package lifecycle

import (
	"sync"
	"time"
)

// TaskQueue holds the embedding tasks for one folder. It enforces a hard
// cap on concurrently in-progress tasks and schedules exponential-backoff
// retries for transient failures. A task whose retries are exhausted is
// terminally failed and is never handed out again.
//
// The queue is safe for concurrent use. Backoff wake-ups are the only
// time-driven behavior: each one is tracked and cancelled on ClearAll or
// Close so no scheduled work leaks past folder disposal.
type TaskQueue struct {
	mu            sync.Mutex
	maxConcurrent int
	retryDelay    time.Duration
	tasks         map[string]*FileTask
	order         []string // insertion order, oldest first
	timers        map[string]*time.Timer
	onAvailable   func()
	now           func() time.Time
	closed        bool
}

// NewTaskQueue creates a queue allowing at most maxConcurrent in-progress
// tasks, with retryDelay as the backoff base for failed tasks.
func NewTaskQueue(maxConcurrent int, retryDelay time.Duration) *TaskQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &TaskQueue{
		maxConcurrent: maxConcurrent,
		retryDelay:    retryDelay,
		tasks:         make(map[string]*FileTask),
		timers:        make(map[string]*time.Timer),
		now:           time.Now,
	}
}

// OnRetryAvailable registers a callback invoked whenever a retried task's
// backoff window elapses and the task becomes dequeuable again. The
// callback runs on a timer goroutine without the queue lock held.
func (q *TaskQueue) OnRetryAvailable(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onAvailable = fn
}

// AddTask inserts a task with status pending.
func (q *TaskQueue) AddTask(task FileTask) {
	q.AddTasks([]FileTask{task})
}

// AddTasks inserts tasks in order with status pending.
func (q *TaskQueue) AddTasks(tasks []FileTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for _, task := range tasks {
		t := task
		t.Status = TaskPending
		if t.CreatedAt.IsZero() {
			t.CreatedAt = q.now()
		}
		if _, exists := q.tasks[t.ID]; !exists {
			q.order = append(q.order, t.ID)
		}
		q.tasks[t.ID] = &t
	}
}

// GetNextTask returns the oldest pending task whose backoff window (if any)
// has elapsed, marking it in-progress and stamping StartedAt. It returns
// nil when nothing is available or the concurrency cap is reached.
func (q *TaskQueue) GetNextTask() *FileTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}

	inProgress := 0
	for _, t := range q.tasks {
		if t.Status == TaskInProgress {
			inProgress++
		}
	}
	if inProgress >= q.maxConcurrent {
		return nil
	}

	now := q.now()
	for _, id := range q.order {
		t := q.tasks[id]
		if t == nil || t.Status != TaskPending {
			continue
		}
		if !t.availableAt.IsZero() && t.availableAt.After(now) {
			continue
		}
		t.Status = TaskInProgress
		t.StartedAt = now
		copied := *t
		return &copied
	}
	return nil
}

// UpdateTaskStatus records the outcome of an in-flight task. On success the
// task is stamped complete. On error the task is either rescheduled for a
// retry after retryDelay * 2^retryCount, or, once retries are exhausted,
// terminally failed. Returns false if the id is unknown.
func (q *TaskQueue) UpdateTaskStatus(id string, status TaskStatus, errorMessage string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return false
	}

	switch status {
	case TaskSuccess:
		t.Status = TaskSuccess
		t.ErrorMessage = ""
		t.CompletedAt = q.now()

	case TaskError:
		t.ErrorMessage = errorMessage
		if t.RetryCount < t.MaxRetries {
			// First retry waits retryDelay, the second twice that, and so
			// on: delay = retryDelay * 2^(retries already attempted).
			delay := q.retryDelay << uint(t.RetryCount)
			t.RetryCount++
			t.Status = TaskPending
			t.availableAt = q.now().Add(delay)
			q.scheduleWakeupLocked(id, delay)
		} else {
			t.Status = TaskError
			t.CompletedAt = q.now()
		}

	default:
		t.Status = status
	}
	q.mu.Unlock()
	return true
}

// scheduleWakeupLocked arms a timer that fires the availability callback
// once the task's backoff window has elapsed. Caller holds q.mu.
func (q *TaskQueue) scheduleWakeupLocked(id string, delay time.Duration) {
	if existing, ok := q.timers[id]; ok {
		existing.Stop()
	}
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		cb := q.onAvailable
		closed := q.closed
		q.mu.Unlock()
		if cb != nil && !closed {
			cb()
		}
	})
}

// GetTaskByID returns a copy of the task with the given id.
func (q *TaskQueue) GetTaskByID(id string) (FileTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return FileTask{}, false
	}
	return *t, true
}

// GetAllTasks returns copies of every task in insertion order.
func (q *TaskQueue) GetAllTasks() []FileTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]FileTask, 0, len(q.order))
	for _, id := range q.order {
		if t, ok := q.tasks[id]; ok {
			tasks = append(tasks, *t)
		}
	}
	return tasks
}

// GetPendingTasks returns copies of tasks awaiting dispatch, including
// those still inside a backoff window.
func (q *TaskQueue) GetPendingTasks() []FileTask {
	return q.tasksWithStatus(TaskPending)
}

// GetInProgressTasks returns copies of currently dispatched tasks.
func (q *TaskQueue) GetInProgressTasks() []FileTask {
	return q.tasksWithStatus(TaskInProgress)
}

func (q *TaskQueue) tasksWithStatus(status TaskStatus) []FileTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	var tasks []FileTask
	for _, id := range q.order {
		if t, ok := q.tasks[id]; ok && t.Status == status {
			tasks = append(tasks, *t)
		}
	}
	return tasks
}

// GetStatistics returns task counts by status. Retrying counts failed tasks
// whose backoff window has not yet elapsed.
func (q *TaskQueue) GetStatistics() QueueStatistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStatistics{Total: len(q.tasks)}
	now := q.now()
	for _, t := range q.tasks {
		switch t.Status {
		case TaskPending:
			stats.Pending++
			if !t.availableAt.IsZero() && t.availableAt.After(now) {
				stats.Retrying++
			}
		case TaskInProgress:
			stats.InProgress++
		case TaskSuccess:
			stats.Completed++
		case TaskError:
			stats.Failed++
		}
	}
	return stats
}

// Progress derives the folder progress snapshot from the current task set.
func (q *TaskQueue) Progress() Progress {
	stats := q.GetStatistics()
	p := Progress{
		TotalTasks:      stats.Total,
		CompletedTasks:  stats.Completed,
		FailedTasks:     stats.Failed,
		InProgressTasks: stats.InProgress,
	}
	if p.TotalTasks > 0 {
		p.Percentage = 100 * p.CompletedTasks / p.TotalTasks
	}
	return p
}

// ClearCompleted drops terminally succeeded tasks. Calling it again without
// intervening completions is a no-op.
func (q *TaskQueue) ClearCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.order[:0]
	for _, id := range q.order {
		if t, ok := q.tasks[id]; ok && t.Status == TaskSuccess {
			delete(q.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

// ClearAll drops every task and cancels all pending backoff timers.
func (q *TaskQueue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearAllLocked()
}

func (q *TaskQueue) clearAllLocked() {
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.tasks = make(map[string]*FileTask)
	q.order = nil
}

// Close clears the queue and rejects all further operations. It is called
// on folder disposal.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearAllLocked()
	q.closed = true
}
