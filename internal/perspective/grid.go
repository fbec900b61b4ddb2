package perspective

import (
	"context"
	"slices"
	"sync"

	"github.com/hazyhaar/heapview/internal/snapshot"
)

// GridKind names a data grid, the master data source of a perspective.
type GridKind int

const (
	GridNone GridKind = iota
	GridConstructors
	GridDiff
	GridContainment
	GridAllocation
)

func (g GridKind) String() string {
	switch g {
	case GridConstructors:
		return "constructors"
	case GridDiff:
		return "diff"
	case GridContainment:
		return "containment"
	case GridAllocation:
		return "allocation"
	default:
		return "none"
	}
}

func (g GridKind) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// Row is one rendered grid row. Fields that do not apply to a grid stay
// zero.
type Row struct {
	Name        string `json:"name"`
	NodeID      uint64 `json:"node_id,omitempty"`
	TraceNodeID int64  `json:"trace_node_id,omitempty"`
	Count       int    `json:"count"`
	SelfSize    int64  `json:"self_size"`
	CountDelta  int    `json:"count_delta,omitempty"`
	SizeDelta   int64  `json:"size_delta,omitempty"`
}

// Grid is the data source of a perspective.
type Grid interface {
	Kind() GridKind
	// Bound reports whether the grid shows snap (and base, for diffs).
	Bound(snap, base *snapshot.Snapshot) bool
	// Shown is closed once the grid finished its first content pass
	// after its last binding.
	Shown() <-chan struct{}
	Rows() []Row
	// Renders counts content passes.
	Renders() int
	Search(ctx context.Context, q snapshot.Query) ([]uint64, error)
	HasObject(id uint64) bool
	// Reveal selects the row holding id and reports whether it exists.
	Reveal(id uint64) bool
	Selected() (uint64, bool)

	bind(snap, base *snapshot.Snapshot)
	setFilter(f snapshot.NodeFilter)
	refresh()
}

type gridCore struct {
	kind GridKind

	// rowsOf computes rows from the bound data.
	rowsOf func(snap, base *snapshot.Snapshot, f snapshot.NodeFilter) []Row

	mu         sync.Mutex
	snap, base *snapshot.Snapshot
	filter     snapshot.NodeFilter
	rows       []Row
	renders    int
	selected   uint64
	hasSel     bool
	shown      chan struct{}
	shownDone  bool
}

func newCore(kind GridKind, rowsOf func(snap, base *snapshot.Snapshot, f snapshot.NodeFilter) []Row) *gridCore {
	return &gridCore{kind: kind, rowsOf: rowsOf, shown: make(chan struct{})}
}

func (g *gridCore) Kind() GridKind { return g.kind }

func (g *gridCore) Bound(snap, base *snapshot.Snapshot) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap != nil && g.snap == snap && g.base == base
}

func (g *gridCore) Shown() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shown
}

func (g *gridCore) Rows() []Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.rows)
}

func (g *gridCore) Renders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.renders
}

func (g *gridCore) Selected() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selected, g.hasSel
}

func (g *gridCore) bind(snap, base *snapshot.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shownDone {
		g.shown = make(chan struct{})
		g.shownDone = false
	}
	g.snap, g.base = snap, base
	g.hasSel = false
	g.renderLocked()
	close(g.shown)
	g.shownDone = true
}

func (g *gridCore) setFilter(f snapshot.NodeFilter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filter = f
	if g.snap != nil {
		g.renderLocked()
	}
}

// refresh re-renders the bound rows without rebinding.
func (g *gridCore) refresh() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snap != nil {
		g.renderLocked()
	}
}

func (g *gridCore) renderLocked() {
	g.rows = g.rowsOf(g.snap, g.base, g.filter)
	g.renders++
}

func (g *gridCore) data() (*snapshot.Snapshot, *snapshot.Snapshot, snapshot.NodeFilter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap, g.base, g.filter
}

func (g *gridCore) selectLocked(id uint64) {
	g.selected, g.hasSel = id, true
}

// constructorsGrid groups objects by class.
type constructorsGrid struct{ *gridCore }

func newConstructorsGrid() *constructorsGrid {
	return &constructorsGrid{newCore(GridConstructors, func(snap, _ *snapshot.Snapshot, f snapshot.NodeFilter) []Row {
		aggs := snap.Aggregates(f)
		rows := make([]Row, len(aggs))
		for i, a := range aggs {
			rows[i] = Row{Name: a.ClassName, Count: a.Count, SelfSize: a.SelfSize}
		}
		return rows
	})}
}

func (g *constructorsGrid) Search(ctx context.Context, q snapshot.Query) ([]uint64, error) {
	snap, _, f := g.data()
	if snap == nil {
		return nil, nil
	}
	return snap.Search(ctx, q, f)
}

func (g *constructorsGrid) HasObject(id uint64) bool {
	snap, _, f := g.data()
	if snap == nil {
		return false
	}
	n, ok := snap.Node(id)
	return ok && f.Match(&n)
}

func (g *constructorsGrid) Reveal(id uint64) bool {
	if !g.HasObject(id) {
		return false
	}
	g.mu.Lock()
	g.selectLocked(id)
	g.mu.Unlock()
	return true
}

// diffGrid compares the session snapshot with a base snapshot.
type diffGrid struct{ *gridCore }

func newDiffGrid() *diffGrid {
	return &diffGrid{newCore(GridDiff, func(snap, base *snapshot.Snapshot, f snapshot.NodeFilter) []Row {
		diff := snap.Diff(base, f)
		rows := make([]Row, len(diff))
		for i, d := range diff {
			rows[i] = Row{
				Name:       d.ClassName,
				Count:      d.AddedCount,
				SelfSize:   d.AddedSize,
				CountDelta: d.CountDelta(),
				SizeDelta:  d.SizeDelta(),
			}
		}
		return rows
	})}
}

// Search only matches objects new since the base snapshot.
func (g *diffGrid) Search(ctx context.Context, q snapshot.Query) ([]uint64, error) {
	snap, base, f := g.data()
	if snap == nil {
		return nil, nil
	}
	ids, err := snap.Search(ctx, q, snapshot.NodeFilter{ClassName: f.ClassName})
	if err != nil || base == nil {
		return ids, err
	}
	out := ids[:0]
	for _, id := range ids {
		if !base.HasObject(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (g *diffGrid) HasObject(id uint64) bool {
	snap, base, _ := g.data()
	return snap != nil && snap.HasObject(id) && (base == nil || !base.HasObject(id))
}

func (g *diffGrid) Reveal(id uint64) bool {
	if !g.HasObject(id) {
		return false
	}
	g.mu.Lock()
	g.selectLocked(id)
	g.mu.Unlock()
	return true
}

// containmentGrid shows the retaining tree from the root.
type containmentGrid struct{ *gridCore }

func newContainmentGrid() *containmentGrid {
	return &containmentGrid{newCore(GridContainment, func(snap, _ *snapshot.Snapshot, _ snapshot.NodeFilter) []Row {
		roots := snap.Roots()
		rows := make([]Row, len(roots))
		for i, e := range roots {
			n := snap.NodeAt(e.To)
			rows[i] = Row{Name: e.Name + ": " + snapshot.ClassName(&n), NodeID: n.ID, Count: 1, SelfSize: n.SelfSize}
		}
		return rows
	})}
}

func (g *containmentGrid) Search(ctx context.Context, q snapshot.Query) ([]uint64, error) {
	snap, _, _ := g.data()
	if snap == nil {
		return nil, nil
	}
	return snap.Search(ctx, q, snapshot.NodeFilter{})
}

func (g *containmentGrid) HasObject(id uint64) bool {
	snap, _, _ := g.data()
	return snap != nil && snap.HasObject(id)
}

// Reveal expands the retaining path of id.
func (g *containmentGrid) Reveal(id uint64) bool {
	snap, _, _ := g.data()
	if snap == nil {
		return false
	}
	if _, ok := snap.Path(id); !ok {
		return false
	}
	g.mu.Lock()
	g.selectLocked(id)
	g.mu.Unlock()
	return true
}

// allocationGrid groups live objects by allocation site.
type allocationGrid struct{ *gridCore }

func newAllocationGrid() *allocationGrid {
	return &allocationGrid{newCore(GridAllocation, func(snap, _ *snapshot.Snapshot, _ snapshot.NodeFilter) []Row {
		groups := snap.Allocations()
		rows := make([]Row, len(groups))
		for i, a := range groups {
			rows[i] = Row{TraceNodeID: a.TraceNodeID, Count: a.Count, SelfSize: a.SelfSize}
		}
		return rows
	})}
}

func (g *allocationGrid) Search(context.Context, snapshot.Query) ([]uint64, error) { return nil, nil }

func (g *allocationGrid) HasObject(uint64) bool { return false }

func (g *allocationGrid) Reveal(uint64) bool { return false }
