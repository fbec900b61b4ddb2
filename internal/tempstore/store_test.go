package tempstore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/heapview/dbopen"
	"github.com/hazyhaar/heapview/idgen"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := New(db, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithFlushBytes(10))

	w := s.NewWriter("heap-profiler", "1")
	chunks := []string{"{\"snap", "shot\":", "{}, \"nodes\": [1,2,3]", "}"}
	for _, c := range chunks {
		if err := w.Write(ctx, c); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	f, err := w.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	want := strings.Join(chunks, "")
	if f.Size() != int64(len(want)) {
		t.Fatalf("size: got %d, want %d", f.Size(), len(want))
	}

	var buf bytes.Buffer
	var last int64
	if err := f.CopyTo(ctx, &buf, func(done, total int64) { last = done }); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if buf.String() != want {
		t.Fatalf("content: got %q, want %q", buf.String(), want)
	}
	if last != int64(len(want)) {
		t.Fatalf("progress: got %d, want %d", last, len(want))
	}
}

func TestWriter_EmptyFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f, err := s.NewWriter("heap-profiler", "2").Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if f.Size() != 0 {
		t.Fatalf("size: got %d, want 0", f.Size())
	}
}

func TestWriter_ClosedAfterFinish(t *testing.T) {
	ctx := context.Background()
	w := newTestStore(t).NewWriter("p", "n")
	if _, err := w.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := w.Write(ctx, "x"); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("write after finish: got %v", err)
	}
}

func TestFile_Remove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithIDGenerator(idgen.Sequence("tmp_")))
	w := s.NewWriter("heap-profiler", "3")
	w.Write(ctx, "payload")
	f, err := w.Finish(ctx)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if f.ID() != "tmp_1" {
		t.Fatalf("id: got %q, want tmp_1", f.ID())
	}
	if err := f.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	n, _ := s.Count(ctx)
	if n != 0 {
		t.Fatalf("count after remove: got %d, want 0", n)
	}
}

func TestWriter_Discard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithFlushBytes(1))
	w := s.NewWriter("heap-profiler", "4")
	w.Write(ctx, "flushed")
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count before discard: got %d, want 1", n)
	}
	w.Discard(ctx)
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("count after discard: got %d, want 0", n)
	}
}

func TestOpen_PurgesLeftovers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store", "temp.db")
	s, err := Open(ctx, path, WithFlushBytes(1), WithCacheKiB(1024))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.NewWriter("heap-profiler", "5").Write(ctx, "left behind")
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("count after reopen: got %d, want 0", n)
	}
}
