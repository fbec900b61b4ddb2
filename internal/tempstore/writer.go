package tempstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hazyhaar/heapview/dbopen"
)

// ErrWriterClosed is returned after Finish or Discard.
var ErrWriterClosed = errors.New("tempstore: writer closed")

// Writer buffers chunks and flushes them to the store in transactions.
// The first error sticks: once a flush fails, every call returns it.
type Writer struct {
	store  *Store
	id     string
	prefix string
	name   string

	mu      sync.Mutex
	pending []string
	bytes   int
	seq     int64
	size    int64
	created bool
	closed  bool
	err     error
}

// ID returns the temp file id.
func (w *Writer) ID() string { return w.id }

// Write buffers chunk, flushing when the buffer is full.
func (w *Writer) Write(ctx context.Context, chunk string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	w.pending = append(w.pending, chunk)
	w.bytes += len(chunk)
	if w.bytes >= w.store.flushBytes {
		w.err = w.flushLocked(ctx)
	}
	return w.err
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 && w.created {
		return nil
	}
	data := strings.Join(w.pending, "")
	err := dbopen.RunTx(ctx, w.store.db, func(tx *sql.Tx) error {
		if !w.created {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO temp_files (id, prefix, name, created_at) VALUES (?, ?, ?, ?)`,
				w.id, w.prefix, w.name, now()); err != nil {
				return fmt.Errorf("tempstore: create %s: %w", w.id, err)
			}
		}
		if len(data) > 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO temp_chunks (file_id, seq, data) VALUES (?, ?, ?)`,
				w.id, w.seq, []byte(data)); err != nil {
				return fmt.Errorf("tempstore: write %s: %w", w.id, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE temp_files SET size = size + ? WHERE id = ?`, len(data), w.id); err != nil {
			return fmt.Errorf("tempstore: size %s: %w", w.id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.created = true
	if len(data) > 0 {
		w.seq++
	}
	w.size += int64(len(data))
	w.pending = nil
	w.bytes = 0
	return nil
}

// Finish flushes the remaining buffer and seals the file.
func (w *Writer) Finish(ctx context.Context) (*File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWriterClosed
	}
	w.closed = true
	if w.err == nil {
		w.err = w.flushLocked(ctx)
	}
	if w.err == nil {
		if _, err := w.store.db.ExecContext(ctx,
			`UPDATE temp_files SET finished = 1 WHERE id = ?`, w.id); err != nil {
			w.err = fmt.Errorf("tempstore: finish %s: %w", w.id, err)
		}
	}
	if w.err != nil {
		w.discardLocked(ctx)
		return nil, w.err
	}
	return &File{store: w.store, id: w.id, size: w.size}, nil
}

// Discard drops the buffer and removes anything already flushed.
func (w *Writer) Discard(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.discardLocked(ctx)
}

func (w *Writer) discardLocked(ctx context.Context) {
	w.pending = nil
	w.bytes = 0
	if !w.created {
		return
	}
	if err := removeFile(ctx, w.store.db, w.id); err != nil {
		w.store.logger.Warn("tempstore: discard failed", "id", w.id, "error", err)
	}
}
