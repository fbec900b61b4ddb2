// CLAUDE:SUMMARY Accumulates streamed snapshot chunks and hands the assembled payload to a background parser on close.
// Package receiver assembles a heap snapshot from streamed chunks and
// parses it off the caller's goroutine once the stream is closed.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/heapview/internal/snapshot"
)

// ErrClosed is returned by Write after Close or Abort.
var ErrClosed = errors.New("receiver: closed")

// Config configures a Receiver.
type Config struct {
	Parser snapshot.Parser
	// OnDone is called once with the parse result, unless the receiver
	// is aborted first.
	OnDone func(*snapshot.Snapshot, error)
	Logger *slog.Logger
}

// Receiver buffers chunks in arrival order.
type Receiver struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	buf     bytes.Buffer
	chunks  int
	closed  bool
	aborted bool
}

// New returns a Receiver ready for Write.
func New(cfg Config) *Receiver {
	if cfg.Parser == nil {
		cfg.Parser = snapshot.V8{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Receiver{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Write appends one chunk.
func (r *Receiver) Write(chunk string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.aborted {
		return ErrClosed
	}
	r.buf.WriteString(chunk)
	r.chunks++
	return nil
}

// Chunks returns the number of chunks written.
func (r *Receiver) Chunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks
}

// Size returns the number of bytes written.
func (r *Receiver) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Close ends the stream and starts parsing. Subsequent calls are no-ops.
func (r *Receiver) Close() {
	r.mu.Lock()
	if r.closed || r.aborted {
		r.mu.Unlock()
		return
	}
	r.closed = true
	payload := r.buf.Bytes()
	chunks := r.chunks
	r.mu.Unlock()

	go r.parse(payload, chunks)
}

func (r *Receiver) parse(payload []byte, chunks int) {
	r.logger.Debug("receiver: parsing", "chunks", chunks, "bytes", len(payload))
	snap, err := r.cfg.Parser.Parse(r.ctx, bytes.NewReader(payload))

	r.mu.Lock()
	aborted := r.aborted
	r.buf = bytes.Buffer{}
	r.mu.Unlock()
	if aborted {
		return
	}
	if r.cfg.OnDone != nil {
		r.cfg.OnDone(snap, err)
	}
}

// Abort discards buffered data and cancels a running parse. OnDone will
// not be called afterwards.
func (r *Receiver) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.buf = bytes.Buffer{}
	r.mu.Unlock()
	r.cancel()
}
