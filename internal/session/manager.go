// CLAUDE:SUMMARY Owns all sessions of one backend: start/stop recording, applies backend events on a single goroutine, fans lifecycle events to subscribers and sinks.
// Package session manages heap capture sessions against one profiler
// backend. At most one session per manager records at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/idgen"
	"github.com/hazyhaar/heapview/internal/backend"
	"github.com/hazyhaar/heapview/internal/samples"
	"github.com/hazyhaar/heapview/internal/sink"
	"github.com/hazyhaar/heapview/internal/snapshot"
	"github.com/hazyhaar/heapview/internal/tempstore"
)

// Config configures a Manager.
type Config struct {
	Backend backend.Backend
	Parser  snapshot.Parser
	// Store persists raw captures for export. Nil disables saving.
	Store *tempstore.Store
	// RecordAllocationStacks is passed to StartTracking.
	RecordAllocationStacks bool
	// Sink receives every event from a background goroutine.
	Sink sink.Sink
	// SinkBuffer bounds the events queued for Sink. Zero means 256.
	SinkBuffer int
	EventIDs               idgen.Generator
	Logger                 *slog.Logger
}

// Listener receives manager events synchronously on the emitting
// goroutine. It must not block.
type Listener func(event.Event)

// Manager owns the sessions of one backend.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	delivery *delivery

	mu        sync.Mutex
	sessions  []*Session
	recording *Session
	tracking  bool
	series    *samples.Series
	nextUID   int

	lmu       sync.Mutex
	listeners map[int]Listener
	nextLID   int
}

// NewManager returns a Manager. Call Run to start applying backend events.
func NewManager(cfg Config) *Manager {
	if cfg.Parser == nil {
		cfg.Parser = snapshot.V8{}
	}
	if cfg.EventIDs == nil {
		cfg.EventIDs = idgen.Event
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{cfg: cfg, logger: logger, listeners: make(map[int]Listener)}
	if cfg.Sink != nil {
		m.delivery = newDelivery(cfg.Sink, cfg.SinkBuffer, logger)
	}
	return m
}

// SinkDropped returns the number of events the sink queue discarded.
func (m *Manager) SinkDropped() int64 {
	if m.delivery == nil {
		return 0
	}
	return m.delivery.dropped.Load()
}

// RecordsAllocationStacks reports whether tracking records allocation stacks.
func (m *Manager) RecordsAllocationStacks() bool { return m.cfg.RecordAllocationStacks }

// Subscribe registers l. The returned func removes it.
func (m *Manager) Subscribe(l Listener) func() {
	m.lmu.Lock()
	id := m.nextLID
	m.nextLID++
	m.listeners[id] = l
	m.lmu.Unlock()
	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

func (m *Manager) emit(kind event.Kind, s *Session, d event.Detail) {
	ev := event.Event{
		ID:        m.cfg.EventIDs(),
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
		Detail:    d,
	}
	if s != nil {
		ev.SessionUID = s.UID()
		ev.SessionKind = s.Kind().String()
		ev.Title = s.Title()
		ev.Status, ev.Waiting = s.Status()
	}

	m.lmu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.lmu.Unlock()
	for _, l := range ls {
		l(ev)
	}

	if m.delivery != nil {
		m.delivery.enqueue(ev)
	}
}

func (m *Manager) newSessionLocked(kind Kind, title string, fromFile bool, series *samples.Series) *Session {
	m.nextUID++
	uid := m.nextUID
	if title == "" {
		title = fmt.Sprintf("Snapshot %d", uid)
	}
	s := newSession(config{
		uid:      uid,
		kind:     kind,
		title:    title,
		fromFile: fromFile,
		series:   series,
		store:    m.cfg.Store,
		parser:   m.cfg.Parser,
		logger:   m.logger,
		received: m.snapshotReceived,
		notify:   m.emit,
	})
	m.sessions = append(m.sessions, s)
	return s
}

// TakeSnapshot starts a heap snapshot capture.
func (m *Manager) TakeSnapshot(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.recording != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	s := m.newSessionLocked(KindSnapshot, "", false, nil)
	m.recording = s
	m.mu.Unlock()

	m.emit(event.KindSessionAdded, s, event.Detail{})
	s.setStatus(StatusSnapshotting, false)
	if err := m.cfg.Backend.TakeSnapshot(ctx); err != nil {
		m.clearRecording(s)
		s.fail(fmt.Errorf("take snapshot: %w", err))
		return s, &TransferError{UID: s.UID(), Cause: err}
	}
	return s, nil
}

// StartTracking starts an allocation timeline recording.
func (m *Manager) StartTracking(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.recording != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	s := m.addTimelineLocked()
	m.mu.Unlock()

	m.emit(event.KindSessionAdded, s, event.Detail{})
	s.setStatus(StatusRecording, false)
	if err := m.cfg.Backend.StartTracking(ctx, m.cfg.RecordAllocationStacks); err != nil {
		m.mu.Lock()
		m.tracking = false
		m.series = nil
		m.mu.Unlock()
		m.clearRecording(s)
		s.fail(fmt.Errorf("start tracking: %w", err))
		return s, &TransferError{UID: s.UID(), Cause: err}
	}
	m.emit(event.KindTrackingStarted, s, event.Detail{})
	return s, nil
}

func (m *Manager) addTimelineLocked() *Session {
	m.series = samples.New()
	s := m.newSessionLocked(KindTimeline, "", false, m.series)
	m.recording = s
	m.tracking = true
	return s
}

// StopTracking stops the timeline recording; its final snapshot streams in.
func (m *Manager) StopTracking(ctx context.Context) error {
	m.mu.Lock()
	s := m.recording
	if !m.tracking || s == nil {
		m.mu.Unlock()
		return ErrNotRecording
	}
	m.tracking = false
	m.mu.Unlock()

	s.setStatus(StatusSnapshotting, false)
	err := m.cfg.Backend.StopTracking(ctx)
	m.emit(event.KindTrackingStopped, s, event.Detail{})
	if err != nil {
		m.clearRecording(s)
		s.fail(fmt.Errorf("stop tracking: %w", err))
		return &TransferError{UID: s.UID(), Cause: err}
	}
	return nil
}

// Tracking reports whether a timeline is recording.
func (m *Manager) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// Recording returns the recording session, nil if none.
func (m *Manager) Recording() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *Manager) clearRecording(s *Session) {
	m.mu.Lock()
	if m.recording == s {
		m.recording = nil
	}
	m.mu.Unlock()
}

// Sessions returns the sessions in creation order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// SessionsOf returns the sessions of one kind in creation order.
func (m *Manager) SessionsOf(kind Kind) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

// Session returns the session with the given uid.
func (m *Manager) Session(uid int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UID() == uid {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNotFound, uid)
}

// Remove disposes a session. Removing the recording timeline stops
// tracking.
func (m *Manager) Remove(ctx context.Context, uid int) error {
	s, err := m.Session(uid)
	if err != nil {
		return err
	}
	m.mu.Lock()
	wasRecording := m.recording == s
	wasTracking := wasRecording && m.tracking
	if wasRecording {
		m.recording = nil
		if s.Kind() == KindTimeline {
			m.tracking = false
			m.series = nil
		}
	}
	for i, cur := range m.sessions {
		if cur == s {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if wasTracking {
		if err := m.cfg.Backend.StopTracking(ctx); err != nil {
			m.logger.Warn("session: stop tracking on remove failed", "error", err)
		}
		m.emit(event.KindTrackingStopped, s, event.Detail{})
	}
	s.Dispose()
	m.emit(event.KindSessionRemoved, s, event.Detail{})
	return nil
}

// LoadFromFile creates a session from a saved capture. Reading and
// parsing continue in the background; Wait on the returned session.
func (m *Manager) LoadFromFile(ctx context.Context, path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FileIOError{Op: "load", Path: path, Cause: fmt.Errorf("'%s' not found", path)}
		}
		return nil, &FileIOError{Op: "load", Path: path, Cause: err}
	}

	m.mu.Lock()
	s := m.newSessionLocked(KindFromPath(path), filepath.Base(path), true, nil)
	m.mu.Unlock()

	m.emit(event.KindSessionAdded, s, event.Detail{})
	s.setStatus(StatusLoading, true)
	go func() {
		defer f.Close()
		if err := s.loadFrom(ctx, f); err != nil {
			ferr := &FileIOError{Op: "read", Path: path, Cause: fmt.Errorf("'%s' is not readable: %w", path, err)}
			m.logger.Warn("session: load from file failed", "error", ferr)
			s.fail(ferr)
		}
	}()
	return s, nil
}

// InspectObject tells the backend which object the user selected.
func (m *Manager) InspectObject(ctx context.Context, id uint64) error {
	return m.cfg.Backend.AddInspectedObject(ctx, id)
}

// snapshotReceived runs once a session's snapshot is parsed.
func (m *Manager) snapshotReceived(s *Session) {
	m.clearRecording(s)
}

// Run applies backend events until ctx is done or the event channel
// closes. It must run on exactly one goroutine.
func (m *Manager) Run(ctx context.Context) error {
	events := m.cfg.Backend.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.handle(ev)
		}
	}
}

func (m *Manager) handle(ev backend.Event) {
	switch ev.Kind {
	case backend.EventChunk:
		if s := m.Recording(); s != nil {
			s.TransferChunk(ev.Chunk)
		} else {
			m.logger.Debug("session: chunk without recording session dropped")
		}

	case backend.EventProgress:
		s := m.Recording()
		if s == nil {
			return
		}
		pct := 0.0
		if ev.Progress.Total > 0 {
			pct = float64(ev.Progress.Done) / float64(ev.Progress.Total) * 100
		}
		s.setStatus(fmt.Sprintf("%.0f%%", pct), true)
		if ev.Progress.Finished {
			s.PrepareToLoad()
		}

	case backend.EventStatsUpdate:
		m.mu.Lock()
		series := m.series
		m.mu.Unlock()
		if series == nil {
			return
		}
		frags := make([]samples.StatsFragment, len(ev.Stats))
		for i, f := range ev.Stats {
			frags[i] = samples.StatsFragment{Index: f.Index, Count: f.Count, Size: f.Size}
		}
		series.ApplyStatsUpdate(frags)

	case backend.EventLastSeenObjectID:
		m.mu.Lock()
		series, s := m.series, m.recording
		m.mu.Unlock()
		if series == nil {
			return
		}
		series.ApplyLastSeenObjectID(ev.ObjectID, ev.Timestamp)
		if s != nil {
			s.UpdateStatus(nil, true)
		}
		m.emit(event.KindHeapStatsUpdate, s, event.Detail{Samples: series.Len(), TotalTimeMs: series.TotalTime()})

	case backend.EventResetProfiles:
		m.reset()

	case backend.EventCaptureComplete:
		m.captureComplete(ev.Err)

	default:
		m.logger.Warn("session: unknown backend event", "kind", ev.Kind.String())
	}
}

func (m *Manager) captureComplete(err error) {
	m.mu.Lock()
	s := m.recording
	if s == nil {
		m.mu.Unlock()
		return
	}
	m.recording = nil
	if s.Kind() == KindTimeline {
		m.series = nil
	}
	m.mu.Unlock()

	if err != nil {
		s.fail(err)
		return
	}
	s.SetTitle(fmt.Sprintf("Snapshot %d", s.UID()))
	s.FinishLoad()
	m.emit(event.KindProfileComplete, s, event.Detail{Chunks: s.Chunks()})
}

// reset disposes every session. A recording timeline is replaced by a
// fresh one; tracking continues on the backend.
func (m *Manager) reset() {
	m.mu.Lock()
	wasTracking := m.tracking
	old := m.sessions
	m.sessions = nil
	m.recording = nil
	m.tracking = false
	m.series = nil
	var fresh *Session
	if wasTracking {
		fresh = m.addTimelineLocked()
	}
	m.mu.Unlock()

	for _, s := range old {
		s.Dispose()
		m.emit(event.KindSessionRemoved, s, event.Detail{})
	}
	m.emit(event.KindProfilesReset, nil, event.Detail{})
	if fresh != nil {
		m.emit(event.KindSessionAdded, fresh, event.Detail{})
		fresh.setStatus(StatusRecording, false)
		m.emit(event.KindTrackingStarted, fresh, event.Detail{})
	}
}

// Close disposes every session and flushes queued sink events.
func (m *Manager) Close() {
	m.mu.Lock()
	old := m.sessions
	m.sessions = nil
	m.recording = nil
	m.tracking = false
	m.series = nil
	m.mu.Unlock()
	for _, s := range old {
		s.Dispose()
	}
	if m.delivery != nil {
		m.delivery.close()
	}
}
