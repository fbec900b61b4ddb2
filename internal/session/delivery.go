package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/internal/sink"
)

const (
	defaultSinkBuffer = 256
	sinkSendTimeout   = 5 * time.Second
	sinkDrainTimeout  = 5 * time.Second
)

// delivery forwards events to a sink from its own goroutine. Events that
// arrive while the buffer is full are dropped.
type delivery struct {
	sink   sink.Sink
	logger *slog.Logger
	queue  chan event.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

func newDelivery(s sink.Sink, buffer int, logger *slog.Logger) *delivery {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &delivery{
		sink:   s,
		logger: logger,
		queue:  make(chan event.Event, buffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *delivery) enqueue(ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			d.logger.Warn("session: sink queue full, dropping events", "kind", ev.Kind, "dropped", n)
		}
	}
}

func (d *delivery) run() {
	defer close(d.done)
	for ev := range d.queue {
		if d.ctx.Err() != nil {
			d.dropped.Add(1)
			continue
		}
		ctx, cancel := context.WithTimeout(d.ctx, sinkSendTimeout)
		if err := d.sink.Send(ctx, ev); err != nil {
			d.logger.Warn("session: sink delivery failed", "kind", ev.Kind, "error", err)
		}
		cancel()
	}
}

// close stops intake and waits for queued events, giving up after
// sinkDrainTimeout.
func (d *delivery) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	t := time.NewTimer(sinkDrainTimeout)
	defer t.Stop()
	select {
	case <-d.done:
	case <-t.C:
		d.cancel()
		<-d.done
	}
	d.cancel()
}
