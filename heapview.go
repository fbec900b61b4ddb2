// CLAUDE:SUMMARY Profiler facade: wires browser, CDP backend, SQLite capture store, sinks and the session manager; owns one perspective view per shown session.
// Package heapview profiles the JavaScript heap of a Chrome page. It
// captures heap snapshots and allocation timelines over the DevTools
// protocol, indexes them, and lets a host browse each capture through
// perspectives (Summary, Comparison, Containment, Allocation, Statistics).
//
// The Profiler is driven from Go, MCP tools (RegisterMCP) or the JSON HTTP
// API (NewHTTPHandler). Session lifecycle events go to sinks (stdout,
// webhook, callback).
package heapview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/heapview/dbopen"
	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/internal/backend"
	"github.com/hazyhaar/heapview/internal/browser"
	"github.com/hazyhaar/heapview/internal/session"
	"github.com/hazyhaar/heapview/internal/sink"
	"github.com/hazyhaar/heapview/internal/tempstore"
)

var (
	ErrNotStarted       = errors.New("heapview: profiler not started")
	ErrStarted          = errors.New("heapview: profiler already started")
	ErrStopped          = errors.New("heapview: profiler stopped")
	ErrNoPage           = errors.New("heapview: no browser page")
	ErrNoSession        = errors.New("heapview: no session")
	ErrAlreadyRecording = session.ErrAlreadyRecording
	ErrNotRecording     = session.ErrNotRecording
	ErrNotFound         = session.ErrNotFound
)

// Backend is the heap profiler agent contract.
type Backend = backend.Backend

// NewReplayBackend returns an offline backend serving a recorded
// .heapsnapshot payload for every capture.
func NewReplayBackend(payload []byte) Backend {
	return backend.NewReplay(payload)
}

// Option customises a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Profiler) { p.logger = l } }

// WithBackend replaces the Chrome backend; no browser is started.
func WithBackend(b Backend) Option { return func(p *Profiler) { p.backend = b } }

// WithSinks adds event sinks to the configured ones.
func WithSinks(sinks ...Sink) Option {
	return func(p *Profiler) { p.extraSinks = append(p.extraSinks, sinks...) }
}

// Profiler owns one backend and its sessions.
type Profiler struct {
	cfg        *Config
	logger     *slog.Logger
	backend    Backend
	extraSinks []Sink

	mu          sync.Mutex
	started     bool
	stopped     bool
	browser     *browser.Manager
	page        *rod.Page
	db          *sql.DB
	store       *tempstore.Store
	router      *sink.Router
	manager     *session.Manager
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	runDone     chan struct{}
	views       map[int]*view
	active      int
}

// New creates a Profiler from configuration. A nil cfg uses
// DefaultConfig. Call Start to connect.
func New(cfg *Config, opts ...Option) *Profiler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Profiler{cfg: cfg, views: make(map[int]*view)}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Start opens the capture store, connects the backend (launching Chrome
// on the target page unless WithBackend was given) and starts applying
// backend events.
func (p *Profiler) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrStarted
	}

	if err := p.openStore(ctx); err != nil {
		return err
	}
	injected := p.backend
	b := injected
	if b == nil {
		cdp, err := p.openCDP(ctx)
		if err != nil {
			p.closeResources()
			return err
		}
		b = cdp
		p.backend = cdp
	}
	if err := b.Enable(ctx); err != nil {
		p.closeResources()
		if b != injected {
			p.backend = injected
		}
		return fmt.Errorf("heapview: enable heap profiler: %w", err)
	}

	p.router = sink.NewRouter(p.logger, append(sinksFromConfig(p.cfg.Sinks, p.logger), p.extraSinks...)...)
	p.manager = session.NewManager(session.Config{
		Backend:                b,
		Store:                  p.store,
		RecordAllocationStacks: p.cfg.Profiler.RecordAllocationStacks,
		Sink:                   p.router,
		Logger:                 p.logger,
	})
	p.unsubscribe = p.manager.Subscribe(p.onEvent)

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.runDone = make(chan struct{})
	go func(mgr *session.Manager, ctx context.Context, done chan struct{}) {
		defer close(done)
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("heapview: event loop stopped", "error", err)
		}
	}(p.manager, p.ctx, p.runDone)

	p.started = true
	p.logger.Info("heapview: started", "target", p.cfg.Target.URL, "store", p.cfg.Store.Path)
	return nil
}

func (p *Profiler) openStore(ctx context.Context) error {
	opts := []tempstore.Option{
		tempstore.WithFlushBytes(p.cfg.Store.FlushBytes),
		tempstore.WithCacheKiB(p.cfg.Store.CacheKiB),
		tempstore.WithLogger(p.logger),
	}
	if p.cfg.Store.Path != "" {
		st, err := tempstore.Open(ctx, p.cfg.Store.Path, opts...)
		if err != nil {
			return fmt.Errorf("heapview: open store: %w", err)
		}
		p.store = st
		return nil
	}
	db, err := dbopen.Open(dbopen.Memory, dbopen.WithCacheKiB(p.cfg.Store.CacheKiB))
	if err != nil {
		return fmt.Errorf("heapview: open store: %w", err)
	}
	st, err := tempstore.New(db, opts...)
	if err != nil {
		db.Close()
		return fmt.Errorf("heapview: open store: %w", err)
	}
	p.db, p.store = db, st
	return nil
}

func (p *Profiler) openCDP(ctx context.Context) (*backend.CDP, error) {
	bc := p.cfg.Browser
	p.browser = browser.NewManager(browser.Config{
		RemoteURL: bc.Remote,
		Headless:  bc.IsHeadless(),
		Bin:       bc.Bin,
		Stealth:   bc.Stealth,
		Logger:    p.logger,
	})
	if _, err := p.browser.Start(ctx); err != nil {
		return nil, fmt.Errorf("heapview: start browser: %w", err)
	}
	page, err := p.browser.OpenPage(ctx, p.cfg.Target.URL)
	if err != nil {
		return nil, fmt.Errorf("heapview: open target: %w", err)
	}
	if wait := p.cfg.Target.LoadWait; wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			page.Close()
			return nil, ctx.Err()
		}
	}
	p.page = page
	return backend.NewCDP(backend.CDPConfig{
		Page:   page,
		Settle: p.cfg.Profiler.ChunkSettle,
		Buffer: p.cfg.Profiler.EventBuffer,
		Logger: p.logger,
	}), nil
}

// Stop disposes every view and session and releases the backend, the
// browser and the store. A stopped Profiler cannot be started again.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started, p.stopped = false, true
	views := p.views
	p.views = make(map[int]*view)
	p.active = 0
	p.mu.Unlock()

	// The event loop calls back into onEvent; p.mu must be free here.
	for _, v := range views {
		v.ctrl.Dispose()
	}
	p.unsubscribe()
	p.cancel()
	<-p.runDone
	p.manager.Close()
	p.mu.Lock()
	err := p.closeResources()
	p.mu.Unlock()
	p.logger.Info("heapview: stopped")
	return err
}

// closeResources releases what Start opened. Callers hold p.mu.
func (p *Profiler) closeResources() error {
	var errs []error
	if p.backend != nil {
		errs = append(errs, p.backend.Close())
	}
	if p.page != nil {
		errs = append(errs, p.page.Close())
		p.page = nil
	}
	if p.browser != nil {
		errs = append(errs, p.browser.Close())
		p.browser = nil
	}
	if p.router != nil {
		errs = append(errs, p.router.Close())
		p.router = nil
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
		p.store = nil
	}
	if p.db != nil {
		errs = append(errs, p.db.Close())
		p.db = nil
	}
	return errors.Join(errs...)
}

func (p *Profiler) sessions() (*session.Manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, ErrNotStarted
	}
	return p.manager, nil
}

// onEvent drops views of removed sessions. Called on the emitting
// goroutine; controllers dispose themselves.
func (p *Profiler) onEvent(ev event.Event) {
	if ev.Kind != event.KindSessionRemoved {
		return
	}
	p.mu.Lock()
	delete(p.views, ev.SessionUID)
	if p.active == ev.SessionUID {
		p.active = 0
	}
	p.mu.Unlock()
}

// TakeSnapshot starts a heap snapshot capture. Use Wait to block until it
// is parsed.
func (p *Profiler) TakeSnapshot(ctx context.Context) (SessionInfo, error) {
	m, err := p.sessions()
	if err != nil {
		return SessionInfo{}, err
	}
	s, err := m.TakeSnapshot(ctx)
	if s == nil {
		return SessionInfo{}, err
	}
	return infoOf(s), err
}

// StartTracking starts an allocation timeline recording.
func (p *Profiler) StartTracking(ctx context.Context) (SessionInfo, error) {
	m, err := p.sessions()
	if err != nil {
		return SessionInfo{}, err
	}
	s, err := m.StartTracking(ctx)
	if s == nil {
		return SessionInfo{}, err
	}
	return infoOf(s), err
}

// StopTracking stops the timeline recording and returns its session; the
// final snapshot streams in the background.
func (p *Profiler) StopTracking(ctx context.Context) (SessionInfo, error) {
	m, err := p.sessions()
	if err != nil {
		return SessionInfo{}, err
	}
	s := m.Recording()
	if err := m.StopTracking(ctx); err != nil {
		return SessionInfo{}, err
	}
	return infoOf(s), nil
}

// Wait blocks until the session's snapshot is parsed or the session
// fails.
func (p *Profiler) Wait(ctx context.Context, uid int) (SessionInfo, error) {
	s, err := p.session(uid)
	if err != nil {
		return SessionInfo{}, err
	}
	if _, err := s.Wait(ctx); err != nil {
		return infoOf(s), err
	}
	return infoOf(s), nil
}

// Sessions lists the sessions in creation order.
func (p *Profiler) Sessions() ([]SessionInfo, error) {
	m, err := p.sessions()
	if err != nil {
		return nil, err
	}
	all := m.Sessions()
	out := make([]SessionInfo, len(all))
	for i, s := range all {
		out[i] = infoOf(s)
	}
	return out, nil
}

// Session describes one session. Uid 0 names the shown session, or the
// latest one when none is shown.
func (p *Profiler) Session(uid int) (SessionInfo, error) {
	s, err := p.session(uid)
	if err != nil {
		return SessionInfo{}, err
	}
	return infoOf(s), nil
}

func (p *Profiler) session(uid int) (*session.Session, error) {
	m, err := p.sessions()
	if err != nil {
		return nil, err
	}
	if uid == 0 {
		p.mu.Lock()
		uid = p.active
		p.mu.Unlock()
	}
	if uid == 0 {
		all := m.Sessions()
		if len(all) == 0 {
			return nil, ErrNoSession
		}
		return all[len(all)-1], nil
	}
	return m.Session(uid)
}

// Remove disposes a session. Removing the recording timeline stops
// tracking.
func (p *Profiler) Remove(ctx context.Context, uid int) error {
	m, err := p.sessions()
	if err != nil {
		return err
	}
	return m.Remove(ctx, uid)
}

// Save exports the raw capture of a session to path and returns the path
// written. An empty path uses the default file name.
func (p *Profiler) Save(ctx context.Context, uid int, path string) (string, error) {
	s, err := p.session(uid)
	if err != nil {
		return "", err
	}
	if path == "" {
		path = s.DefaultFileName()
	}
	if err := s.SaveToFile(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

// Load creates a session from a saved .heapsnapshot or .heaptimeline
// file. Parsing continues in the background.
func (p *Profiler) Load(path string) (SessionInfo, error) {
	m, err := p.sessions()
	if err != nil {
		return SessionInfo{}, err
	}
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	s, err := m.LoadFromFile(ctx, path)
	if err != nil {
		return SessionInfo{}, err
	}
	return infoOf(s), nil
}

// HeapUsage returns the target page's used JS heap size.
func (p *Profiler) HeapUsage(ctx context.Context) (int64, error) {
	p.mu.Lock()
	page := p.page
	p.mu.Unlock()
	if page == nil {
		return 0, ErrNoPage
	}
	return browser.HeapUsage(ctx, page)
}

// ProcessMemory returns the resident memory of the locally launched Chrome
// process tree. It returns ErrNoPage without a local browser.
func (p *Profiler) ProcessMemory(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	m := p.browser
	p.mu.Unlock()
	if m == nil {
		return 0, ErrNoPage
	}
	n, err := m.ProcessMemory(ctx)
	if errors.Is(err, browser.ErrNotLocal) {
		return 0, fmt.Errorf("%w: %w", ErrNoPage, err)
	}
	return n, err
}
