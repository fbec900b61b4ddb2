package backend

import (
	"context"
	"sync"
)

// DefaultChunkSize is the replay chunk size in bytes.
const DefaultChunkSize = 64 << 10

// Replay is an in-process backend that serves a recorded payload. Stats
// and last-seen events are pushed by the caller.
type Replay struct {
	mu        sync.Mutex
	payload   []byte
	chunkSize int
	progress  int
	failWith  error
	events    chan Event
	closed    bool
	enabled   bool
	tracking  bool
	stacks    bool
	inspected []uint64
	captures  int
	wg        sync.WaitGroup

	sendMu   sync.RWMutex
	sendDone bool
	done     chan struct{}
}

// ReplayOption customises a Replay.
type ReplayOption func(*Replay)

// WithChunkSize sets the chunk size.
func WithChunkSize(n int) ReplayOption { return func(r *Replay) { r.chunkSize = n } }

// WithProgressSteps sets how many progress reports precede the chunks.
func WithProgressSteps(n int) ReplayOption { return func(r *Replay) { r.progress = n } }

// NewReplay returns a Replay serving payload for every capture.
func NewReplay(payload []byte, opts ...ReplayOption) *Replay {
	r := &Replay{payload: payload, chunkSize: DefaultChunkSize, progress: 4, events: make(chan Event, 256), done: make(chan struct{})}
	for _, o := range opts {
		o(r)
	}
	if r.chunkSize <= 0 {
		r.chunkSize = DefaultChunkSize
	}
	return r
}

// SetPayload replaces the payload served by later captures.
func (r *Replay) SetPayload(p []byte) {
	r.mu.Lock()
	r.payload = p
	r.mu.Unlock()
}

// FailNext makes the next capture complete with err and no chunks.
func (r *Replay) FailNext(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Events implements Backend.
func (r *Replay) Events() <-chan Event { return r.events }

// Enable implements Backend.
func (r *Replay) Enable(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.enabled = true
	return nil
}

// TakeSnapshot implements Backend.
func (r *Replay) TakeSnapshot(context.Context) error {
	return r.capture()
}

// StartTracking implements Backend.
func (r *Replay) StartTracking(_ context.Context, recordStacks bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.tracking = true
	r.stacks = recordStacks
	return nil
}

// StopTracking implements Backend.
func (r *Replay) StopTracking(context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.tracking = false
	r.mu.Unlock()
	return r.capture()
}

// AddInspectedObject implements Backend.
func (r *Replay) AddInspectedObject(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.inspected = append(r.inspected, id)
	return nil
}

// Inspected returns the ids passed to AddInspectedObject.
func (r *Replay) Inspected() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.inspected...)
}

// Tracking reports whether tracking is on and whether stacks are recorded.
func (r *Replay) Tracking() (on, stacks bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracking, r.stacks
}

// Captures returns the number of captures started.
func (r *Replay) Captures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captures
}

func (r *Replay) capture() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	payload, failWith := r.payload, r.failWith
	r.failWith = nil
	r.captures++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if failWith != nil {
			r.push(Event{Kind: EventCaptureComplete, Err: failWith})
			return
		}
		total := len(payload)
		for i := 1; i <= r.progress; i++ {
			r.push(Event{Kind: EventProgress, Progress: Progress{Done: total * i / r.progress, Total: total}})
		}
		r.push(Event{Kind: EventProgress, Progress: Progress{Done: total, Total: total, Finished: true}})
		for off := 0; off < total; off += r.chunkSize {
			end := min(off+r.chunkSize, total)
			r.push(Event{Kind: EventChunk, Chunk: string(payload[off:end])})
		}
		r.push(Event{Kind: EventCaptureComplete})
	}()
	return nil
}

// PushStats emits a stats update.
func (r *Replay) PushStats(frags ...StatsFragment) {
	r.push(Event{Kind: EventStatsUpdate, Stats: frags})
}

// PushLastSeen emits a last-seen object id.
func (r *Replay) PushLastSeen(id uint64, timestampMs float64) {
	r.push(Event{Kind: EventLastSeenObjectID, ObjectID: id, Timestamp: timestampMs})
}

// PushReset emits a reset-profiles notification.
func (r *Replay) PushReset() {
	r.push(Event{Kind: EventResetProfiles})
}

func (r *Replay) push(ev Event) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.sendDone {
		return
	}
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Close abandons running captures and closes the event channel.
func (r *Replay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)
	r.wg.Wait()
	r.sendMu.Lock()
	r.sendDone = true
	close(r.events)
	r.sendMu.Unlock()
	return nil
}
