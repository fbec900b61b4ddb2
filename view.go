package heapview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hazyhaar/heapview/internal/overview"
	"github.com/hazyhaar/heapview/internal/perspective"
	"github.com/hazyhaar/heapview/internal/search"
	"github.com/hazyhaar/heapview/internal/session"
)

// ErrUnknownPerspective is returned for a perspective name that names no
// perspective.
var ErrUnknownPerspective = errors.New("heapview: unknown perspective")

// SearchQuery is a search request over the shown perspective. A text of
// the form "@<id>" looks an object up by id.
type SearchQuery = search.Query

// Row is one rendered grid row.
type Row = perspective.Row

// StatRecord is one slice of the statistics pane.
type StatRecord = perspective.StatRecord

// Layout tells which views and controls the shown perspective uses.
type Layout = perspective.Layout

// Frame is one rendering of the tracking overview.
type Frame = overview.Frame

// ViewState is what the host shows for one session.
type ViewState struct {
	UID           int          `json:"uid"`
	Perspective   string       `json:"perspective"`
	Available     []string     `json:"available"`
	Layout        Layout       `json:"layout"`
	Rows          []Row        `json:"rows"`
	Details       []Row        `json:"details,omitempty"` // constructors of the selected allocation
	Selected      uint64       `json:"selected,omitempty"`
	Base          int          `json:"base,omitempty"`
	Filter        int          `json:"filter"`
	FilterOptions []string     `json:"filter_options,omitempty"`
	SelectedSize  string       `json:"selected_size,omitempty"`
	Overview      *Frame       `json:"overview,omitempty"`
	Search        *SearchState `json:"search,omitempty"`
}

// SearchState is the outcome of the last search of a view.
type SearchState struct {
	Query   string   `json:"query"`
	Matches int      `json:"matches"`
	Current int      `json:"current"` // -1 before the first jump
	Results []uint64 `json:"results"`
}

// view is the perspective controller of one shown session.
type view struct {
	ctrl *perspective.Controller
	// searched is signalled after every completed search.
	searched chan struct{}

	mu    sync.Mutex
	frame *Frame
}

func (v *view) setFrame(f overview.Frame) {
	v.mu.Lock()
	v.frame = &f
	v.mu.Unlock()
}

func (v *view) searchState() *SearchState {
	q, ok := v.ctrl.SearchQuery()
	if !ok {
		return nil
	}
	ids, cur := v.ctrl.SearchResults()
	if ids == nil {
		ids = []uint64{}
	}
	return &SearchState{Query: q.Text, Matches: len(ids), Current: cur, Results: ids}
}

func (v *view) state() ViewState {
	c := v.ctrl
	st := ViewState{
		UID:          c.Session().UID(),
		Perspective:  c.Current().String(),
		Layout:       c.Layout(),
		Rows:         []Row{},
		Filter:       c.Filter(),
		SelectedSize: c.SelectedSize(),
		Search:       v.searchState(),
	}
	for _, k := range c.Available() {
		st.Available = append(st.Available, k.String())
	}
	if g := c.MasterGrid(); g != nil {
		st.Rows = g.Rows()
		if id, ok := g.Selected(); ok {
			st.Selected = id
		}
	}
	if st.Layout.AllocationDetails {
		st.Details = c.Grid(perspective.GridConstructors).Rows()
	}
	if st.Layout.FilterSelector {
		st.FilterOptions = c.FilterOptions()
	}
	if st.Layout.BaseSelector {
		if b := c.Base(); b != nil {
			st.Base = b.UID()
		}
	}
	if st.Layout.TrackingOverview {
		v.mu.Lock()
		st.Overview = v.frame
		v.mu.Unlock()
	}
	return st
}

// show resolves uid (0 is the shown session, else the latest one), makes
// it the shown session and returns its view.
func (p *Profiler) show(uid int) (*view, error) {
	s, err := p.session(uid)
	if err != nil {
		return nil, err
	}
	v, err := p.viewOf(s)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	prev := p.views[p.active]
	p.active = s.UID()
	p.mu.Unlock()
	if prev != nil && prev != v {
		prev.ctrl.Hide()
	}
	return v, nil
}

func (p *Profiler) viewOf(s *session.Session) (*view, error) {
	p.mu.Lock()
	if v, ok := p.views[s.UID()]; ok {
		p.mu.Unlock()
		return v, nil
	}
	m := p.manager
	p.mu.Unlock()

	v := &view{searched: make(chan struct{}, 1)}
	ctrl, err := perspective.New(perspective.Config{
		Manager:          m,
		Session:          s,
		Delegate:         p.delegate(s.UID()),
		SearchDelay:      p.cfg.Profiler.SearchDelay,
		OverviewInterval: p.cfg.Profiler.OverviewInterval,
		OnMatches: func(int) {
			select {
			case v.searched <- struct{}{}:
			default:
			}
		},
		OnFrame: v.setFrame,
		Logger:  p.logger,
	})
	if err != nil {
		return nil, err
	}
	v.ctrl = ctrl

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.views[s.UID()]; ok {
		ctrl.Dispose()
		return cur, nil
	}
	// A session disposed now has already been dropped by onEvent.
	if !p.started || s.Disposed() {
		ctrl.Dispose()
		return nil, fmt.Errorf("%w: %d", ErrNotFound, s.UID())
	}
	p.views[s.UID()] = v
	return v, nil
}

// delegate reveals ids beyond the snapshot of session from in the first
// other session whose snapshot holds them.
func (p *Profiler) delegate(from int) perspective.Delegate {
	return func(ctx context.Context, id uint64, name string) (bool, error) {
		m, err := p.sessions()
		if err != nil {
			return false, err
		}
		for _, s := range m.Sessions() {
			if s.UID() == from || s.MaxObjectID() < id {
				continue
			}
			v, err := p.show(s.UID())
			if err != nil {
				return false, err
			}
			return v.ctrl.RevealObject(ctx, id, name)
		}
		return false, nil
	}
}

// Show makes the session shown and returns its view once the master grid
// is rendered.
func (p *Profiler) Show(ctx context.Context, uid int) (ViewState, error) {
	v, err := p.show(uid)
	if err != nil {
		return ViewState{}, err
	}
	if err := v.ctrl.WaitShown(ctx); err != nil {
		return v.state(), err
	}
	return v.state(), nil
}

// SelectPerspective switches the session view to the named perspective.
func (p *Profiler) SelectPerspective(ctx context.Context, uid int, name string) (ViewState, error) {
	k, ok := perspective.ParseKind(name)
	if !ok {
		return ViewState{}, fmt.Errorf("%w: %q", ErrUnknownPerspective, name)
	}
	v, err := p.show(uid)
	if err != nil {
		return ViewState{}, err
	}
	if err := v.ctrl.ChangePerspective(k); err != nil {
		return v.state(), err
	}
	if err := v.ctrl.WaitShown(ctx); err != nil {
		return v.state(), err
	}
	return v.state(), nil
}

// Search runs q over the shown perspective and returns its results.
func (p *Profiler) Search(ctx context.Context, uid int, q SearchQuery) (*SearchState, error) {
	v, err := p.show(uid)
	if err != nil {
		return nil, err
	}
	select {
	case <-v.searched:
	default:
	}
	q.Text = strings.TrimSpace(q.Text)
	v.ctrl.Search(q)
	for {
		select {
		case <-v.searched:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// Perspectives without search complete without recording q.
		if !v.ctrl.Current().Searchable() {
			return &SearchState{Query: q.Text, Current: -1, Results: []uint64{}}, nil
		}
		if cur, ok := v.ctrl.SearchQuery(); ok && cur == q {
			return v.searchState(), nil
		}
	}
}

// Next reveals the next search result, wrapping around.
func (p *Profiler) Next(uid int) (*SearchState, error) {
	v, err := p.show(uid)
	if err != nil {
		return nil, err
	}
	v.ctrl.JumpToNext()
	return v.searchState(), nil
}

// Previous reveals the previous search result, wrapping around.
func (p *Profiler) Previous(uid int) (*SearchState, error) {
	v, err := p.show(uid)
	if err != nil {
		return nil, err
	}
	v.ctrl.JumpToPrevious()
	return v.searchState(), nil
}

// RevealObject shows object id under the named perspective. Ids beyond
// the session's snapshot are revealed in the session that holds them,
// which becomes the shown session.
func (p *Profiler) RevealObject(ctx context.Context, uid int, id uint64, perspectiveName string) (bool, error) {
	v, err := p.show(uid)
	if err != nil {
		return false, err
	}
	return v.ctrl.RevealObject(ctx, id, perspectiveName)
}

// Statistics returns the statistics pane of a session.
func (p *Profiler) Statistics(ctx context.Context, uid int) ([]StatRecord, error) {
	v, err := p.show(uid)
	if err != nil {
		return nil, err
	}
	return v.ctrl.Statistics(ctx)
}

// SetBase selects the comparison base of a session view.
func (p *Profiler) SetBase(ctx context.Context, uid, base int) (ViewState, error) {
	v, err := p.show(uid)
	if err != nil {
		return ViewState{}, err
	}
	if err := v.ctrl.SetBase(base); err != nil {
		return v.state(), err
	}
	if err := v.ctrl.WaitShown(ctx); err != nil {
		return v.state(), err
	}
	return v.state(), nil
}

// SetFilter selects a Summary object filter by its index in
// ViewState.FilterOptions.
func (p *Profiler) SetFilter(uid, index int) (ViewState, error) {
	v, err := p.show(uid)
	if err != nil {
		return ViewState{}, err
	}
	if err := v.ctrl.SetFilter(index); err != nil {
		return v.state(), err
	}
	return v.state(), nil
}

// SetClassFilter narrows the class grids to names containing text.
func (p *Profiler) SetClassFilter(uid int, text string) (ViewState, error) {
	v, err := p.show(uid)
	if err != nil {
		return ViewState{}, err
	}
	v.ctrl.SetClassFilter(text)
	return v.state(), nil
}

// SelectAllocationNode links the allocation details to one allocation
// site.
func (p *Profiler) SelectAllocationNode(uid int, traceNodeID int64) (ViewState, error) {
	v, err := p.show(uid)
	if err != nil {
		return ViewState{}, err
	}
	v.ctrl.SelectAllocationNode(traceNodeID)
	return v.state(), nil
}
