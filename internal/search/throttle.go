package search

import (
	"sync"
	"time"
)

// Throttler runs at most one task at a time, at most once per delay.
// Scheduling while a task is pending replaces it: only the newest
// pending task ever runs.
type Throttler struct {
	delay time.Duration

	mu      sync.Mutex
	pending func()
	timer   *time.Timer
	running bool
	stopped bool
}

// NewThrottler returns a Throttler with the given delay.
func NewThrottler(delay time.Duration) *Throttler {
	return &Throttler{delay: delay}
}

// Schedule queues fn, dropping any task still waiting.
func (t *Throttler) Schedule(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending = fn
	if t.running || t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.delay, t.fire)
}

func (t *Throttler) fire() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	if fn == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	fn()

	t.mu.Lock()
	t.running = false
	if t.pending != nil && !t.stopped {
		t.timer = time.AfterFunc(t.delay, t.fire)
	}
	t.mu.Unlock()
}

// Stop drops pending work. A running task completes.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
