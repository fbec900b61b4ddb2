package backend

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultSettle is how long the CDP backend waits without chunks after a
// capture command returns before reporting completion.
const DefaultSettle = 50 * time.Millisecond

// CDPConfig configures a CDP backend.
type CDPConfig struct {
	Page   *rod.Page
	Settle time.Duration
	Buffer int
	Logger *slog.Logger
}

// CDP drives the HeapProfiler domain of a page over the DevTools protocol.
type CDP struct {
	page   *rod.Page
	settle time.Duration
	logger *slog.Logger
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	lastChunk atomic.Int64 // unix nanos
	closed    atomic.Bool
	wg        sync.WaitGroup
	sendMu    sync.Mutex
}

// NewCDP subscribes to heap profiler events of cfg.Page.
func NewCDP(cfg CDPConfig) *CDP {
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &CDP{
		page:   cfg.Page,
		settle: cfg.Settle,
		logger: cfg.Logger,
		events: make(chan Event, cfg.Buffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.listen()
	return c
}

func (c *CDP) listen() {
	wait := c.page.Context(c.ctx).EachEvent(
		func(e *proto.HeapProfilerAddHeapSnapshotChunk) {
			c.lastChunk.Store(time.Now().UnixNano())
			c.send(Event{Kind: EventChunk, Chunk: e.Chunk})
		},
		func(e *proto.HeapProfilerReportHeapSnapshotProgress) {
			c.send(Event{Kind: EventProgress, Progress: Progress{Done: e.Done, Total: e.Total, Finished: e.Finished}})
		},
		func(e *proto.HeapProfilerHeapStatsUpdate) {
			c.send(Event{Kind: EventStatsUpdate, Stats: ParseStatsUpdate(e.StatsUpdate)})
		},
		func(e *proto.HeapProfilerLastSeenObjectID) {
			c.send(Event{Kind: EventLastSeenObjectID, ObjectID: uint64(e.LastSeenObjectID), Timestamp: e.Timestamp})
		},
		func(e *proto.HeapProfilerResetProfiles) {
			c.send(Event{Kind: EventResetProfiles})
		},
	)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		wait()
	}()
}

func (c *CDP) send(ev Event) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// Events implements Backend.
func (c *CDP) Events() <-chan Event { return c.events }

func (c *CDP) client(ctx context.Context) *rod.Page { return c.page.Context(ctx) }

// Enable implements Backend.
func (c *CDP) Enable(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return proto.HeapProfilerEnable{}.Call(c.client(ctx))
}

// TakeSnapshot implements Backend. The command runs in the background.
func (c *CDP) TakeSnapshot(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.capture(func() error {
		return proto.HeapProfilerTakeHeapSnapshot{ReportProgress: true}.Call(c.client(c.ctx))
	})
	return nil
}

// StartTracking implements Backend.
func (c *CDP) StartTracking(ctx context.Context, recordStacks bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return proto.HeapProfilerStartTrackingHeapObjects{TrackAllocations: recordStacks}.Call(c.client(ctx))
}

// StopTracking implements Backend. The final snapshot streams in the
// background.
func (c *CDP) StopTracking(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.capture(func() error {
		return proto.HeapProfilerStopTrackingHeapObjects{ReportProgress: true}.Call(c.client(c.ctx))
	})
	return nil
}

// AddInspectedObject implements Backend.
func (c *CDP) AddInspectedObject(ctx context.Context, id uint64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return proto.HeapProfilerAddInspectedHeapObject{
		HeapObjectID: proto.HeapProfilerHeapSnapshotObjectID(strconv.FormatUint(id, 10)),
	}.Call(c.client(ctx))
}

// capture runs cmd and emits EventCaptureComplete once no chunk has
// arrived for the settle window.
func (c *CDP) capture(cmd func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		start := time.Now()
		err := cmd()
		if err != nil {
			c.logger.Warn("backend: capture failed", "error", err)
		}
		for {
			idle := time.Since(time.Unix(0, c.lastChunk.Load()))
			if idle >= c.settle {
				break
			}
			select {
			case <-time.After(c.settle - idle):
			case <-c.ctx.Done():
				return
			}
		}
		c.logger.Debug("backend: capture complete", "elapsed", time.Since(start))
		c.send(Event{Kind: EventCaptureComplete, Err: err})
	}()
}

// Close stops listening and closes the event channel.
func (c *CDP) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.sendMu.Lock()
	close(c.events)
	c.sendMu.Unlock()
	return nil
}
