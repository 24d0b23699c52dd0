package lifecycle

import (
	"sync"
	"time"
)

// resetTimer is a cancellable one-shot timer that can be rearmed. It backs
// both the rescan debounce and the error-recovery backoff, so cancellation
// on folder disposal is uniform: every scheduled callback goes through one
// of these and every one is stopped in Dispose.
//
// The callback runs on a timer goroutine and is never invoked after Stop
// returns, unless it was already in flight; callers guard against that with
// their own disposed checks.
type resetTimer struct {
	mu sync.Mutex
	fn func()
	t  *time.Timer
}

func newResetTimer(fn func()) *resetTimer {
	return &resetTimer{fn: fn}
}

// Reset arms the timer to fire after d, replacing any earlier deadline.
func (r *resetTimer) Reset(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t != nil {
		r.t.Stop()
	}
	r.t = time.AfterFunc(d, r.fn)
}

// Stop cancels the pending callback, if any.
func (r *resetTimer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t != nil {
		r.t.Stop()
		r.t = nil
	}
}
