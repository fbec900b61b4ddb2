// CLAUDE:SUMMARY One heap capture: chunk intake, temp-file persistence, background parse, close-once load future, status text, save and dispose.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/internal/receiver"
	"github.com/hazyhaar/heapview/internal/samples"
	"github.com/hazyhaar/heapview/internal/snapshot"
	"github.com/hazyhaar/heapview/internal/tempstore"
)

// Kind is the capture type of a session.
type Kind int

const (
	KindSnapshot Kind = iota
	KindTimeline
)

func (k Kind) String() string {
	if k == KindTimeline {
		return "timeline"
	}
	return "snapshot"
}

// FileExtension returns the export file extension.
func (k Kind) FileExtension() string {
	if k == KindTimeline {
		return ".heaptimeline"
	}
	return ".heapsnapshot"
}

// KindFromPath picks the kind from a file extension.
func KindFromPath(path string) Kind {
	if strings.HasSuffix(path, KindTimeline.FileExtension()) {
		return KindTimeline
	}
	return KindSnapshot
}

// State is the session lifecycle.
type State int

const (
	StateRecording State = iota
	StateLoading
	StateLoaded
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status texts.
const (
	StatusSnapshotting = "Snapshotting…"
	StatusRecording    = "Recording…"
	StatusLoading      = "Loading…"
)

// tempPrefix namespaces heap profiler temp files.
const tempPrefix = "heap-profiler"

// fileChunkSize is the read size when loading from a file.
const fileChunkSize = 10 << 20

// DefaultFileName returns "Heap-YYYYMMDDTHHMMSS<ext>".
func DefaultFileName(kind Kind, now time.Time) string {
	return "Heap-" + now.Format("20060102T150405") + kind.FileExtension()
}

type config struct {
	uid      int
	kind     Kind
	title    string
	fromFile bool
	series   *samples.Series
	store    *tempstore.Store
	parser   snapshot.Parser
	logger   *slog.Logger
	// received runs after the snapshot is parsed, outside the session lock.
	received func(*Session)
	notify   func(event.Kind, *Session, event.Detail)
}

// Session is one heap capture. Methods are safe for concurrent use.
type Session struct {
	cfg    config
	logger *slog.Logger

	mu         sync.Mutex
	title      string
	status     string
	waiting    bool
	state      State
	series     *samples.Series
	recv       *receiver.Receiver
	writer     *tempstore.Writer
	tempFile   *tempstore.File
	tempDone   chan struct{}
	failedTemp bool
	snap       *snapshot.Snapshot
	chunks     int
	err        error
	disposed   bool

	loaded  chan struct{}
	settled chan struct{}
	once    sync.Once
}

func newSession(cfg config) *Session {
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.parser == nil {
		cfg.parser = snapshot.V8{}
	}
	s := &Session{
		cfg:      cfg,
		logger:   logger.With("session", cfg.uid),
		title:    cfg.title,
		state:    StateRecording,
		series:   cfg.series,
		tempDone: make(chan struct{}),
		loaded:   make(chan struct{}),
		settled:  make(chan struct{}),
	}
	if cfg.fromFile {
		s.state = StateLoading
	}
	return s
}

// UID returns the session id, unique within its manager.
func (s *Session) UID() int { return s.cfg.uid }

// Kind returns the capture type.
func (s *Session) Kind() Kind { return s.cfg.kind }

// FromFile reports whether the session was loaded from a file.
func (s *Session) FromFile() bool { return s.cfg.fromFile }

// Title returns the display title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle replaces the display title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// Status returns the status text and waiting flag.
func (s *Session) Status() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.waiting
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Chunks returns the number of chunks received.
func (s *Session) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Series returns the allocation series of a timeline, nil otherwise.
func (s *Session) Series() *samples.Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series
}

// Snapshot returns the parsed snapshot, nil until loaded.
func (s *Session) Snapshot() *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// MaxObjectID returns the largest JS object id of the snapshot, 0 until
// loaded.
func (s *Session) MaxObjectID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.MaxObjectID()
}

// Err returns the failure cause of a Failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Loaded is closed once the snapshot is parsed. It is never closed for a
// failed or disposed session.
func (s *Session) Loaded() <-chan struct{} { return s.loaded }

// Wait blocks until the snapshot is loaded, the session fails or is
// disposed, or ctx is done.
func (s *Session) Wait(ctx context.Context) (*snapshot.Snapshot, error) {
	select {
	case <-s.settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return s.snap, nil
	}
	return nil, s.err
}

func (s *Session) settle() {
	s.once.Do(func() { close(s.settled) })
}

// UpdateStatus sets the status text and waiting flag. A nil text keeps the
// current text.
func (s *Session) UpdateStatus(text *string, waiting bool) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if text != nil {
		s.status = *text
	}
	s.waiting = waiting
	s.mu.Unlock()
	s.notify(event.KindStatusChanged, event.Detail{})
}

func (s *Session) setStatus(text string, waiting bool) { s.UpdateStatus(&text, waiting) }

func (s *Session) notify(kind event.Kind, d event.Detail) {
	if s.cfg.notify != nil {
		s.cfg.notify(kind, s, d)
	}
}

func (s *Session) newReceiverLocked() {
	s.recv = receiver.New(receiver.Config{
		Parser: s.cfg.parser,
		OnDone: s.snapshotReceived,
		Logger: s.logger,
	})
}

// TransferChunk appends one serialized chunk. The temp file write is best
// effort; the receiver always gets the chunk.
func (s *Session) TransferChunk(chunk string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.logger.Debug("session: chunk after dispose dropped")
		return
	}
	if s.state != StateRecording && s.state != StateLoading {
		s.mu.Unlock()
		s.logger.Warn("session: chunk ignored", "state", s.state.String())
		return
	}
	if s.writer == nil && s.cfg.store != nil && !s.failedTemp && !s.cfg.fromFile {
		s.writer = s.cfg.store.NewWriter(tempPrefix, fmt.Sprint(s.cfg.uid))
	}
	if s.writer != nil {
		if err := s.writer.Write(context.Background(), chunk); err != nil {
			s.logger.Warn("session: temp file write failed", "error", &FileIOError{Op: "write temp", Cause: err})
			s.failedTemp = true
			s.writer.Discard(context.Background())
			s.writer = nil
		}
	}
	if s.recv == nil {
		s.newReceiverLocked()
	}
	s.chunks++
	recv := s.recv
	s.mu.Unlock()

	if err := recv.Write(chunk); err != nil {
		s.logger.Debug("session: receiver rejected chunk", "error", err)
	}
}

// PrepareToLoad moves a recording session to Loading.
func (s *Session) PrepareToLoad() {
	s.mu.Lock()
	if s.disposed || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	if s.recv == nil {
		s.newReceiverLocked()
	}
	s.state = StateLoading
	s.mu.Unlock()
	s.setStatus(StatusLoading, true)
}

// FinishLoad ends the chunk stream: the receiver starts parsing and the
// temp file is sealed in the background.
func (s *Session) FinishLoad() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.logger.Debug("session: finish after dispose ignored")
		return
	}
	if s.state == StateRecording {
		s.state = StateLoading
	}
	recv, writer := s.recv, s.writer
	s.writer = nil
	s.mu.Unlock()

	if writer != nil {
		go s.finishTempFile(writer)
	} else {
		s.closeTempDone()
	}
	if recv == nil {
		s.fail(errors.New("no snapshot data received"))
		return
	}
	recv.Close()
}

func (s *Session) closeTempDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.tempDone:
	default:
		close(s.tempDone)
	}
}

func (s *Session) finishTempFile(w *tempstore.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	f, err := w.Finish(ctx)

	s.mu.Lock()
	disposed := s.disposed
	if err != nil {
		s.failedTemp = true
	} else if !disposed {
		s.tempFile = f
	}
	s.mu.Unlock()
	s.closeTempDone()

	switch {
	case err != nil:
		s.logger.Warn("session: failed to create temp file", "error", &FileIOError{Op: "finish temp", Cause: err})
	case disposed:
		if err := f.Remove(ctx); err != nil {
			s.logger.Warn("session: temp file removal failed", "error", err)
		}
	}
}

// snapshotReceived is the receiver callback.
func (s *Session) snapshotReceived(snap *snapshot.Snapshot, err error) {
	if err != nil {
		s.fail(err)
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.snap = snap
	s.recv = nil
	s.state = StateLoaded
	if s.cfg.kind == KindTimeline && s.cfg.fromFile {
		if ts, ids, sizes := snap.TimelineSamples(); len(ts) > 0 {
			s.series = samples.FromRecorded(ts, ids, sizes)
		}
	}
	s.mu.Unlock()

	s.setStatus(humanize.Bytes(uint64(snap.TotalSize())), false)
	close(s.loaded)
	s.settle()
	s.notify(event.KindSnapshotReceived, event.Detail{
		TotalSize:   snap.TotalSize(),
		MaxObjectID: snap.MaxObjectID(),
		NodeCount:   snap.NodeCount(),
		Chunks:      s.Chunks(),
	})
	if s.cfg.received != nil {
		s.cfg.received(s)
	}
}

// fail marks the session Failed. The load future is never resolved.
func (s *Session) fail(cause error) {
	terr := &TransferError{UID: s.cfg.uid, Cause: cause}
	s.mu.Lock()
	if s.disposed || s.state == StateFailed || s.state == StateLoaded {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.err = terr
	recv := s.recv
	s.recv = nil
	s.mu.Unlock()

	if recv != nil {
		recv.Abort()
	}
	s.logger.Error("session: transfer failed", "error", terr)
	s.setStatus("Snapshot failed: "+cause.Error(), false)
	s.settle()
	s.notify(event.KindTransferFailed, event.Detail{Error: cause.Error()})
}

// Dispose releases the parser, the temp file and the buffered chunks.
// Late callbacks become no-ops.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = StateDisposed
	if s.err == nil && s.snap == nil {
		s.err = ErrDisposed
	}
	recv, writer, file := s.recv, s.writer, s.tempFile
	s.recv, s.writer, s.tempFile = nil, nil, nil
	s.mu.Unlock()

	if recv != nil {
		recv.Abort()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if writer != nil {
		writer.Discard(ctx)
	}
	if file != nil {
		if err := file.Remove(ctx); err != nil {
			s.logger.Warn("session: temp file removal failed", "error", err)
		}
	}
	s.settle()
}

// Disposed reports whether Dispose ran.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// CanSave reports whether the capture can be exported.
func (s *Session) CanSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.fromFile && s.snap != nil && !s.failedTemp && s.cfg.store != nil && !s.disposed
}

// DefaultFileName returns the export name for the current time.
func (s *Session) DefaultFileName() string {
	return DefaultFileName(s.cfg.kind, time.Now())
}

// SaveToFile writes the raw capture to path, reporting "Saving… N%".
// The capture goes to a sibling temp file that replaces path only on success.
func (s *Session) SaveToFile(ctx context.Context, path string) error {
	if path == "" {
		path = s.DefaultFileName()
	}
	file, sizeText, err := s.savable(ctx)
	if err != nil {
		var fe *FileIOError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &FileIOError{Op: "create", Path: path, Cause: err}
	}
	tmpPath := tmp.Name()
	if err := s.copyOut(ctx, file, sizeText, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		var fe *FileIOError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &FileIOError{Op: "close", Path: path, Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &FileIOError{Op: "rename", Path: path, Cause: err}
	}
	return nil
}

// WriteTo streams the raw capture to w.
func (s *Session) WriteTo(ctx context.Context, w io.Writer) error {
	file, sizeText, err := s.savable(ctx)
	if err != nil {
		return err
	}
	return s.copyOut(ctx, file, sizeText, w)
}

// savable waits for the temp copy and returns it with the status to restore.
func (s *Session) savable(ctx context.Context) (*tempstore.File, string, error) {
	if !s.CanSave() {
		return nil, "", &FileIOError{Op: "save", Cause: errors.New("snapshot cannot be saved")}
	}
	select {
	case <-s.tempDone:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
	s.mu.Lock()
	file, failed := s.tempFile, s.failedTemp
	sizeText := s.status
	if s.snap != nil {
		sizeText = humanize.Bytes(uint64(s.snap.TotalSize()))
	}
	s.mu.Unlock()
	if failed || file == nil {
		return nil, "", &FileIOError{Op: "save", Cause: errors.New("failed to open temp file with heap snapshot")}
	}
	return file, sizeText, nil
}

func (s *Session) copyOut(ctx context.Context, file *tempstore.File, sizeText string, w io.Writer) error {
	s.setStatus("Saving… 0%", true)
	lastPct := -1
	err := file.CopyTo(ctx, w, func(done, total int64) {
		pct := 100
		if total > 0 {
			pct = int(done * 100 / total)
		}
		if pct != lastPct {
			lastPct = pct
			s.setStatus(fmt.Sprintf("Saving… %d%%", pct), true)
		}
	})
	s.setStatus(sizeText, false)
	if err != nil {
		s.logger.Warn("session: save failed", "error", err)
		return &FileIOError{Op: "save", Cause: err}
	}
	return nil
}

// loadFrom feeds r into the receiver in fileChunkSize reads.
func (s *Session) loadFrom(ctx context.Context, r io.Reader) error {
	s.mu.Lock()
	if s.recv == nil {
		s.newReceiverLocked()
	}
	recv := s.recv
	s.mu.Unlock()

	buf := make([]byte, fileChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s.mu.Lock()
			s.chunks++
			s.mu.Unlock()
			if werr := recv.Write(string(buf[:n])); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}
	recv.Close()
	return nil
}
