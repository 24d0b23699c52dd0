package lifecycle

import (
	"sync"
	"time"
)

// ProgressThrottler rate-limits outbound status notifications for one
// folder. It buffers the latest event and flushes it at most once per
// interval (trailing-edge debounce), except that terminal events — reaching
// active or error, and disposal — are flushed immediately so observers
// never miss a folder's final state.
type ProgressThrottler struct {
	mu       sync.Mutex
	interval time.Duration
	sink     StatusSink
	pending  *Event
	timer    *time.Timer
	closed   bool
}

// NewProgressThrottler wraps sink with a per-interval throttle.
func NewProgressThrottler(interval time.Duration, sink StatusSink) *ProgressThrottler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressThrottler{interval: interval, sink: sink}
}

// Report buffers or delivers an event. Terminal events cancel any pending
// flush (the terminal event supersedes it) and go out immediately.
func (p *ProgressThrottler) Report(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	if event.Terminal {
		p.pending = nil
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		sink := p.sink
		p.mu.Unlock()
		if sink != nil {
			sink.OnStateChange(event)
		}
		return
	}

	p.pending = &event
	if p.timer == nil {
		p.timer = time.AfterFunc(p.interval, p.flush)
	}
	p.mu.Unlock()
}

func (p *ProgressThrottler) flush() {
	p.mu.Lock()
	p.timer = nil
	event := p.pending
	p.pending = nil
	sink := p.sink
	closed := p.closed
	p.mu.Unlock()

	if closed || event == nil || sink == nil {
		return
	}
	switch event.Kind {
	case EventStateChange:
		sink.OnStateChange(*event)
	default:
		sink.OnProgress(*event)
	}
}

// Close cancels any pending flush. Buffered non-terminal events are
// dropped; the orchestrator reports disposal through the terminal path
// before closing.
func (p *ProgressThrottler) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
