package perspective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/internal/overview"
	"github.com/hazyhaar/heapview/internal/samples"
	"github.com/hazyhaar/heapview/internal/search"
	"github.com/hazyhaar/heapview/internal/session"
	"github.com/hazyhaar/heapview/internal/snapshot"
)

var (
	ErrUnavailable = errors.New("perspective: not available for this session")
	ErrDisposed    = errors.New("perspective: controller disposed")
)

// Delegate reveals an object owned by another session.
type Delegate func(ctx context.Context, id uint64, perspective string) (bool, error)

// Config configures a Controller.
type Config struct {
	Manager *session.Manager
	Session *session.Session
	// Delegate handles ids above the session's max object id. Nil
	// reports them as not found.
	Delegate Delegate

	SearchDelay      time.Duration
	OverviewInterval time.Duration

	OnMatches      func(count int)
	OnCurrent      func(index int)
	OnFrame        func(overview.Frame)
	OnSelectedSize func(text string)
	Logger         *slog.Logger
}

// Controller owns the perspectives of one session view. Transitions are
// serialized by its mutex.
type Controller struct {
	cfg      Config
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	search   *search.Coordinator
	overview *overview.Aggregator
	grids    map[GridKind]Grid

	unsubscribe func()

	mu           sync.Mutex
	current      Kind
	layout       Layout
	baseUID      int // 0 selects the default base
	filterIndex  int
	classFilter  string
	idRange      snapshot.NodeFilter
	allocNode    int64
	lastRange    samples.IDRange
	selectedSize string
	disposed     bool
}

// New returns a Controller showing the Summary perspective.
func New(cfg Config) (*Controller, error) {
	if cfg.Manager == nil || cfg.Session == nil {
		return nil, errors.New("perspective: manager and session are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		logger: logger.With("session", cfg.Session.UID()),
		ctx:    ctx,
		cancel: cancel,
		grids: map[GridKind]Grid{
			GridConstructors: newConstructorsGrid(),
			GridDiff:         newDiffGrid(),
			GridContainment:  newContainmentGrid(),
			GridAllocation:   newAllocationGrid(),
		},
	}
	if series := cfg.Session.Series(); series != nil {
		c.overview = overview.New(overview.Config{
			Series:         series,
			UpdateInterval: cfg.OverviewInterval,
			OnFrame:        cfg.OnFrame,
			OnRangeChanged: c.onIDRange,
			Logger:         logger,
		})
	}
	c.search = search.New(search.Config{
		Target:    searchTarget{c},
		Delay:     cfg.SearchDelay,
		OnMatches: cfg.OnMatches,
		OnCurrent: cfg.OnCurrent,
		Logger:    logger,
	})

	c.mu.Lock()
	c.current = Summary
	applyPerspective(c, Summary, true)
	c.ensureBoundLocked()
	c.mu.Unlock()

	c.unsubscribe = cfg.Manager.Subscribe(c.onEvent)
	return c, nil
}

func (c *Controller) isTimeline() bool { return c.cfg.Session.Kind() == session.KindTimeline }

// Available lists the perspectives this session offers, in display order.
func (c *Controller) Available() []Kind {
	out := make([]Kind, 0, len(allKinds))
	for _, k := range allKinds {
		if c.available(k) {
			out = append(out, k)
		}
	}
	return out
}

func (c *Controller) available(k Kind) bool {
	switch k {
	case Comparison:
		return !c.isTimeline()
	case Allocation:
		return c.isTimeline() && c.cfg.Manager.RecordsAllocationStacks()
	default:
		_, ok := perspectives[k]
		return ok
	}
}

// Current returns the active perspective.
func (c *Controller) Current() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Layout returns the views attached for the active perspective.
func (c *Controller) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// MasterGrid returns the data source of the active perspective, nil for
// Statistics.
func (c *Controller) MasterGrid() Grid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masterLocked()
}

func (c *Controller) masterLocked() Grid {
	return c.grids[perspectives[c.current].master]
}

// Grid returns the grid of the given kind.
func (c *Controller) Grid(kind GridKind) Grid { return c.grids[kind] }

// Overview returns the tracking overview, nil unless the session has a
// sample series.
func (c *Controller) Overview() *overview.Aggregator { return c.overview }

// Session returns the session shown.
func (c *Controller) Session() *session.Session { return c.cfg.Session }

// ChangePerspective switches to k. Switching to the current perspective
// is a no-op.
func (c *Controller) ChangePerspective(k Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if !c.available(k) {
		return fmt.Errorf("%w: %s", ErrUnavailable, k)
	}
	c.changeLocked(k)
	return nil
}

func (c *Controller) changeLocked(k Kind) {
	if k == c.current {
		return
	}
	applyPerspective(c, c.current, false)
	c.current = k
	applyPerspective(c, k, true)
	if g := c.masterLocked(); g != nil {
		g.refresh()
	}
	c.ensureBoundLocked()
	c.search.InvalidateAndResearch()
	c.logger.Debug("perspective: changed", "perspective", k.String())
}

// ChangePerspectiveAndWait switches to the named perspective and calls fn
// once its grid finished loading. If the perspective is already current,
// unknown, or has no grid, fn runs on the next tick.
func (c *Controller) ChangePerspectiveAndWait(name string, fn func()) {
	k, ok := ParseKind(name)
	c.mu.Lock()
	if !ok || c.disposed || k == c.current || !c.available(k) {
		c.mu.Unlock()
		time.AfterFunc(0, fn)
		return
	}
	c.changeLocked(k)
	g := c.masterLocked()
	c.mu.Unlock()

	if g == nil {
		time.AfterFunc(0, fn)
		return
	}
	shown := g.Shown()
	go func() {
		select {
		case <-shown:
			fn()
		case <-c.ctx.Done():
		}
	}()
}

// WaitShown blocks until the master grid shows the session snapshot, and
// the base snapshot for Comparison. Perspectives without a grid return
// once the session is loaded.
func (c *Controller) WaitShown(ctx context.Context) error {
	snap, err := c.cfg.Session.Wait(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	g := c.masterLocked()
	var base *session.Session
	if g != nil && g.Kind() == GridDiff {
		base = c.baseSessionLocked()
	}
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	var baseSnap *snapshot.Snapshot
	if base != nil {
		if baseSnap, err = base.Wait(ctx); err != nil {
			return err
		}
	}
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for !g.Bound(snap, baseSnap) {
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ensureBoundLocked binds the grids of the active layout once their
// snapshots load.
func (c *Controller) ensureBoundLocked() {
	var grids []Grid
	if g := c.masterLocked(); g != nil {
		grids = append(grids, g)
	}
	if c.layout.AllocationDetails {
		grids = append(grids, c.grids[GridConstructors])
	}
	for _, g := range grids {
		var base *session.Session
		if g.Kind() == GridDiff {
			base = c.baseSessionLocked()
		}
		if c.cfg.Session.State() == session.StateLoaded && g.Bound(c.cfg.Session.Snapshot(), loadedSnapshot(base)) {
			continue
		}
		go c.bindWhenLoaded(g, base)
	}
}

func loadedSnapshot(s *session.Session) *snapshot.Snapshot {
	if s == nil {
		return nil
	}
	return s.Snapshot()
}

func (c *Controller) bindWhenLoaded(g Grid, base *session.Session) {
	snap, err := c.cfg.Session.Wait(c.ctx)
	if err != nil {
		c.logger.Debug("perspective: session not loaded", "grid", g.Kind().String(), "error", err)
		return
	}
	var baseSnap *snapshot.Snapshot
	if base != nil {
		if baseSnap, err = base.Wait(c.ctx); err != nil {
			c.logger.Debug("perspective: base not loaded", "base", base.UID(), "error", err)
			return
		}
	}

	c.mu.Lock()
	current := !c.disposed && c.gridActiveLocked(g)
	if g.Kind() == GridDiff {
		current = current && c.baseSessionLocked() == base
	}
	c.mu.Unlock()
	if !current || g.Bound(snap, baseSnap) {
		return
	}
	g.bind(snap, baseSnap)
}

func (c *Controller) gridActiveLocked(g Grid) bool {
	if c.masterLocked() == g {
		return true
	}
	return c.layout.AllocationDetails && g == c.grids[GridConstructors]
}

// BaseOptions lists the snapshot sessions usable as a comparison base.
func (c *Controller) BaseOptions() []*session.Session {
	return c.cfg.Manager.SessionsOf(session.KindSnapshot)
}

// Base returns the comparison base session.
func (c *Controller) Base() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseSessionLocked()
}

// baseSessionLocked returns the chosen base, or the snapshot listed just
// before this one.
func (c *Controller) baseSessionLocked() *session.Session {
	list := c.cfg.Manager.SessionsOf(session.KindSnapshot)
	if c.baseUID != 0 {
		for _, s := range list {
			if s.UID() == c.baseUID {
				return s
			}
		}
	}
	for i, s := range list {
		if s == c.cfg.Session {
			return list[max(0, i-1)]
		}
	}
	return nil
}

// SetBase selects the snapshot session to compare against.
func (c *Controller) SetBase(uid int) error {
	s, err := c.cfg.Manager.Session(uid)
	if err != nil {
		return err
	}
	if s.Kind() != session.KindSnapshot {
		return fmt.Errorf("perspective: session %d is not a snapshot", uid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.baseUID = uid
	if c.current == Comparison {
		c.ensureBoundLocked()
	}
	c.search.InvalidateAndResearch()
	return nil
}

// FilterOptions lists the Summary object filters: all objects, then the
// objects allocated up to each snapshot.
func (c *Controller) FilterOptions() []string {
	list := c.cfg.Manager.SessionsOf(session.KindSnapshot)
	out := []string{"All objects"}
	for i, s := range list {
		if i == 0 {
			out = append(out, "Objects allocated before "+s.Title())
			continue
		}
		out = append(out, "Objects allocated between "+list[i-1].Title()+" and "+s.Title())
	}
	return out
}

// SetFilter applies the Summary filter at index of FilterOptions.
func (c *Controller) SetFilter(index int) error {
	list := c.cfg.Manager.SessionsOf(session.KindSnapshot)
	if index < 0 || index > len(list) {
		return fmt.Errorf("perspective: filter index %d out of range", index)
	}
	var r snapshot.NodeFilter
	if index > 0 {
		p := index - 1
		var minID uint64
		if p > 0 {
			minID = list[p-1].MaxObjectID()
		}
		r = idFilter(minID, list[p].MaxObjectID()+1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterIndex = index
	c.idRange = r
	c.applyFiltersLocked()
	c.search.InvalidateAndResearch()
	return nil
}

// Filter returns the index of the active Summary filter.
func (c *Controller) Filter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filterIndex
}

// idFilter keeps ids above after and below before.
func idFilter(after, before uint64) snapshot.NodeFilter {
	f := snapshot.NodeFilter{MaxNodeID: before}
	if after > 0 {
		f.MinNodeID = after + 1
	}
	return f
}

// SetClassFilter keeps classes whose name contains text.
func (c *Controller) SetClassFilter(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.classFilter == text {
		return
	}
	c.classFilter = text
	c.applyFiltersLocked()
	c.search.InvalidateAndResearch()
}

// SelectAllocationNode links the constructors grid to one allocation
// site. Zero clears the link.
func (c *Controller) SelectAllocationNode(traceNodeID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allocNode = traceNodeID
	c.applyFiltersLocked()
	c.search.InvalidateAndResearch()
}

func (c *Controller) applyFiltersLocked() {
	f := c.idRange
	f.ClassName = c.classFilter
	f.AllocationNodeID = c.allocNode
	c.grids[GridConstructors].setFilter(f)
	c.grids[GridDiff].setFilter(snapshot.NodeFilter{ClassName: c.classFilter})
}

func (c *Controller) onIDRange(r samples.IDRange) {
	c.mu.Lock()
	if c.disposed || r == c.lastRange {
		c.mu.Unlock()
		return
	}
	c.lastRange = r
	c.idRange = idFilter(r.MinID, r.MaxID+1)
	c.applyFiltersLocked()
	c.selectedSize = "Selected size: " + humanize.Bytes(uint64(max(0, r.Size)))
	text := c.selectedSize
	c.mu.Unlock()

	if c.cfg.OnSelectedSize != nil {
		c.cfg.OnSelectedSize(text)
	}
}

// SelectedSize returns the size text of the overview selection.
func (c *Controller) SelectedSize() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedSize
}

// Statistics waits for the snapshot and returns the statistics pane.
func (c *Controller) Statistics(ctx context.Context) ([]StatRecord, error) {
	snap, err := c.cfg.Session.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return statisticsRecords(snap.Statistics()), nil
}

// Search schedules q over the active perspective.
func (c *Controller) Search(q search.Query) { c.search.Search(q) }

// JumpToNext reveals the next search result.
func (c *Controller) JumpToNext() { c.search.JumpToNext() }

// JumpToPrevious reveals the previous search result.
func (c *Controller) JumpToPrevious() { c.search.JumpToPrevious() }

// SearchQuery returns the query of the last search that ran.
func (c *Controller) SearchQuery() (search.Query, bool) { return c.search.Query() }

// SearchResults returns the current results and cursor.
func (c *Controller) SearchResults() ([]uint64, int) { return c.search.Results() }

// Hide drops the search results; the query stays for the next change.
func (c *Controller) Hide() {
	c.search.Cancel()
	if c.overview != nil {
		c.overview.Hide()
	}
}

// RevealObject shows id under the named perspective. Ids above the
// session's max object id go to the Delegate.
func (c *Controller) RevealObject(ctx context.Context, id uint64, perspective string) (bool, error) {
	snap, err := c.cfg.Session.Wait(ctx)
	if err != nil {
		return false, err
	}
	if id > snap.MaxObjectID() {
		if c.cfg.Delegate == nil {
			return false, nil
		}
		return c.cfg.Delegate(ctx, id, perspective)
	}

	found := make(chan bool, 1)
	c.ChangePerspectiveAndWait(perspective, func() {
		g := c.MasterGrid()
		if g == nil {
			found <- false
			return
		}
		select {
		case <-g.Shown():
		case <-ctx.Done():
			found <- false
			return
		}
		ok := c.reveal(g, id)
		if !ok {
			c.logger.Info("perspective: cannot find corresponding heap snapshot node", "id", id)
		}
		found <- ok
	})
	select {
	case ok := <-found:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Controller) reveal(g Grid, id uint64) bool {
	if !g.Reveal(id) {
		return false
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	if err := c.cfg.Manager.InspectObject(ctx, id); err != nil {
		c.logger.Warn("perspective: inspect object failed", "id", id, "error", err)
	}
	return true
}

func (c *Controller) onEvent(ev event.Event) {
	uid := c.cfg.Session.UID()
	switch ev.Kind {
	case event.KindSessionRemoved:
		if ev.SessionUID == uid {
			c.Dispose()
			return
		}
		c.mu.Lock()
		if ev.SessionUID == c.baseUID {
			c.baseUID = 0
			if c.current == Comparison {
				c.ensureBoundLocked()
				c.search.InvalidateAndResearch()
			}
		}
		c.mu.Unlock()
	case event.KindTrackingStopped:
		if ev.SessionUID == uid && c.overview != nil {
			c.overview.StopTracking()
		}
	}
}

// Dispose detaches the controller from its session and manager.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.search.Close()
	if c.overview != nil {
		c.overview.Close()
	}
	c.cancel()
}

// searchTarget exposes the active master grid to the search coordinator.
type searchTarget struct{ c *Controller }

func (t searchTarget) SupportsSearch() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return perspectives[t.c.current].supportsSearch
}

// Search waits for the grid to load before searching it.
func (t searchTarget) Search(ctx context.Context, q snapshot.Query) ([]uint64, error) {
	g := t.c.MasterGrid()
	if g == nil {
		return nil, nil
	}
	select {
	case <-g.Shown():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Search(ctx, q)
}

func (t searchTarget) HasObject(ctx context.Context, id uint64) (bool, error) {
	g := t.c.MasterGrid()
	if g == nil {
		return false, nil
	}
	select {
	case <-g.Shown():
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return g.HasObject(id), nil
}

func (t searchTarget) Reveal(id uint64) bool {
	g := t.c.MasterGrid()
	return g != nil && t.c.reveal(g, id)
}
