// CLAUDE:SUMMARY Parsed V8 heap snapshot: nodes, edges, statistics, class aggregates, diffs, allocation groups and recorded samples.
// Package snapshot holds a parsed V8 heap snapshot and the queries the
// perspectives run against it.
package snapshot

import (
	"sort"
	"sync"
)

// Node is one heap object.
type Node struct {
	Index       int
	ID          uint64
	Type        string
	Name        string
	SelfSize    int64
	TraceNodeID int64
	firstEdge   int
	edgeCount   int
}

// Edge is a reference from one node to another.
type Edge struct {
	Type string
	Name string
	To   int // node index
}

// Statistics is the per-category breakdown of self sizes.
type Statistics struct {
	Code        int64
	Strings     int64
	JSArrays    int64
	TypedArrays int64
	System      int64
	Total       int64
}

// Sample is one recorded allocation fragment of a timeline file.
type Sample struct {
	TimestampMs    float64
	LastAssignedID uint64
}

// Snapshot is immutable once built and safe for concurrent use.
type Snapshot struct {
	nodes   []Node
	edges   []Edge
	byID    map[uint64]int
	samples []Sample

	maxObjectID uint64
	totalSize   int64
	stats       Statistics

	classes     map[string][]int // class name -> node indexes
	parents     []int            // containment tree, built on first Path
	parentsOnce sync.Once
}

// New builds a Snapshot from nodes and edges. Node.Index must match the
// slice position and edges of node i must occupy its edge range.
func New(nodes []Node, edges []Edge, samples []Sample) *Snapshot {
	s := &Snapshot{
		nodes:   nodes,
		edges:   edges,
		byID:    make(map[uint64]int, len(nodes)),
		samples: samples,
		classes: make(map[string][]int),
	}
	for i := range nodes {
		n := &nodes[i]
		s.byID[n.ID] = i
		if n.ID%2 == 1 && n.ID > s.maxObjectID {
			s.maxObjectID = n.ID
		}
		s.totalSize += n.SelfSize
		s.classes[ClassName(n)] = append(s.classes[ClassName(n)], i)
		s.addStat(n)
	}
	s.stats.Total = s.totalSize
	return s
}

func (s *Snapshot) addStat(n *Node) {
	switch n.Type {
	case "code":
		s.stats.Code += n.SelfSize
	case "string", "concatenated string", "sliced string":
		s.stats.Strings += n.SelfSize
	case "native":
		s.stats.TypedArrays += n.SelfSize
	case "object":
		if n.Name == "Array" {
			s.stats.JSArrays += n.SelfSize
		}
	case "hidden", "array", "synthetic", "object shape":
		s.stats.System += n.SelfSize
	}
}

// ClassName returns the constructor grouping of a node.
func ClassName(n *Node) string {
	switch n.Type {
	case "object", "native":
		return n.Name
	case "code":
		return "(compiled code)"
	case "hidden", "object shape":
		return "(system)"
	default:
		return "(" + n.Type + ")"
	}
}

// NodeCount returns the number of nodes.
func (s *Snapshot) NodeCount() int { return len(s.nodes) }

// TotalSize returns the sum of all self sizes.
func (s *Snapshot) TotalSize() int64 { return s.totalSize }

// MaxObjectID returns the largest odd (JS object) id, 0 if none.
func (s *Snapshot) MaxObjectID() uint64 { return s.maxObjectID }

// Statistics returns the category breakdown.
func (s *Snapshot) Statistics() Statistics { return s.stats }

// Samples returns the recorded timeline samples, if any.
func (s *Snapshot) Samples() []Sample { return s.samples }

// HasObject reports whether a node with the given id exists.
func (s *Snapshot) HasObject(id uint64) bool {
	_, ok := s.byID[id]
	return ok
}

// Node returns the node with the given id.
func (s *Snapshot) Node(id uint64) (Node, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[i], true
}

// Edges returns the outgoing edges of the node with the given id.
func (s *Snapshot) Edges(id uint64) []Edge {
	i, ok := s.byID[id]
	if !ok {
		return nil
	}
	n := s.nodes[i]
	return s.edges[n.firstEdge : n.firstEdge+n.edgeCount]
}

// NodeAt returns the node at index i.
func (s *Snapshot) NodeAt(i int) Node { return s.nodes[i] }

// Root returns the first node, the synthetic root in V8 snapshots.
func (s *Snapshot) Root() (Node, bool) {
	if len(s.nodes) == 0 {
		return Node{}, false
	}
	return s.nodes[0], true
}

// Roots returns the outgoing edges of the root node.
func (s *Snapshot) Roots() []Edge {
	if len(s.nodes) == 0 {
		return nil
	}
	n := s.nodes[0]
	return s.edges[n.firstEdge : n.firstEdge+n.edgeCount]
}

// Path returns the node indexes from the root to the node with the given
// id along the first-discovered containment path.
func (s *Snapshot) Path(id uint64) ([]int, bool) {
	target, ok := s.byID[id]
	if !ok || len(s.nodes) == 0 {
		return nil, false
	}
	s.parentsOnce.Do(s.buildParents)
	if target != 0 && s.parents[target] < 0 {
		return nil, false
	}
	var path []int
	for i := target; ; i = s.parents[i] {
		path = append(path, i)
		if i == 0 {
			break
		}
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path, true
}

// buildParents runs a BFS from the root over non-weak edges.
func (s *Snapshot) buildParents() {
	s.parents = make([]int, len(s.nodes))
	for i := range s.parents {
		s.parents[i] = -1
	}
	queue := []int{0}
	s.parents[0] = 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		n := s.nodes[i]
		for _, e := range s.edges[n.firstEdge : n.firstEdge+n.edgeCount] {
			if e.Type == "weak" || s.parents[e.To] >= 0 {
				continue
			}
			s.parents[e.To] = i
			queue = append(queue, e.To)
		}
	}
}

// Aggregate is one constructor row of the summary.
type Aggregate struct {
	ClassName string
	Count     int
	SelfSize  int64
	IDs       []uint64
}

// Aggregates groups the nodes passing filter by class name, largest first.
func (s *Snapshot) Aggregates(filter NodeFilter) []Aggregate {
	out := make([]Aggregate, 0, len(s.classes))
	for name, idxs := range s.classes {
		if !filter.matchClass(name) {
			continue
		}
		agg := Aggregate{ClassName: name}
		for _, i := range idxs {
			n := &s.nodes[i]
			if !filter.matchNode(n) {
				continue
			}
			agg.Count++
			agg.SelfSize += n.SelfSize
			agg.IDs = append(agg.IDs, n.ID)
		}
		if agg.Count > 0 {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SelfSize != out[j].SelfSize {
			return out[i].SelfSize > out[j].SelfSize
		}
		return out[i].ClassName < out[j].ClassName
	})
	return out
}

// DiffEntry compares one class between a base snapshot and this one.
type DiffEntry struct {
	ClassName    string
	AddedCount   int
	RemovedCount int
	AddedSize    int64
	RemovedSize  int64
	AddedIDs     []uint64
}

// CountDelta is added minus removed objects.
func (d DiffEntry) CountDelta() int { return d.AddedCount - d.RemovedCount }

// SizeDelta is added minus removed bytes.
func (d DiffEntry) SizeDelta() int64 { return d.AddedSize - d.RemovedSize }

// Diff compares this snapshot against base by object id, per class.
// Classes with no change are omitted.
func (s *Snapshot) Diff(base *Snapshot, filter NodeFilter) []DiffEntry {
	entries := make(map[string]*DiffEntry)
	get := func(name string) *DiffEntry {
		e, ok := entries[name]
		if !ok {
			e = &DiffEntry{ClassName: name}
			entries[name] = e
		}
		return e
	}
	for i := range s.nodes {
		n := &s.nodes[i]
		if base != nil && base.HasObject(n.ID) {
			continue
		}
		name := ClassName(n)
		if !filter.matchClass(name) {
			continue
		}
		e := get(name)
		e.AddedCount++
		e.AddedSize += n.SelfSize
		e.AddedIDs = append(e.AddedIDs, n.ID)
	}
	if base != nil {
		for i := range base.nodes {
			n := &base.nodes[i]
			if s.HasObject(n.ID) {
				continue
			}
			name := ClassName(n)
			if !filter.matchClass(name) {
				continue
			}
			e := get(name)
			e.RemovedCount++
			e.RemovedSize += n.SelfSize
		}
	}
	out := make([]DiffEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].SizeDelta(), out[j].SizeDelta()
		if di != dj {
			return di > dj
		}
		return out[i].ClassName < out[j].ClassName
	})
	return out
}

// AllocationGroup aggregates live objects by allocation trace node.
type AllocationGroup struct {
	TraceNodeID int64
	Count       int
	SelfSize    int64
}

// Allocations groups nodes with a trace node id, largest first.
func (s *Snapshot) Allocations() []AllocationGroup {
	groups := make(map[int64]*AllocationGroup)
	for i := range s.nodes {
		n := &s.nodes[i]
		if n.TraceNodeID == 0 {
			continue
		}
		g, ok := groups[n.TraceNodeID]
		if !ok {
			g = &AllocationGroup{TraceNodeID: n.TraceNodeID}
			groups[n.TraceNodeID] = g
		}
		g.Count++
		g.SelfSize += n.SelfSize
	}
	out := make([]AllocationGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SelfSize != out[j].SelfSize {
			return out[i].SelfSize > out[j].SelfSize
		}
		return out[i].TraceNodeID < out[j].TraceNodeID
	})
	return out
}

// TimelineSamples distributes the self size of every node over the recorded
// samples by object id: a node belongs to the first sample whose last
// assigned id is not below its own.
func (s *Snapshot) TimelineSamples() (timestamps []float64, ids []uint64, sizes []int64) {
	if len(s.samples) == 0 {
		return nil, nil, nil
	}
	timestamps = make([]float64, len(s.samples))
	ids = make([]uint64, len(s.samples))
	sizes = make([]int64, len(s.samples))
	for i, smp := range s.samples {
		timestamps[i] = smp.TimestampMs
		ids[i] = smp.LastAssignedID
	}
	for i := range s.nodes {
		n := &s.nodes[i]
		k := sort.Search(len(ids), func(j int) bool { return ids[j] >= n.ID })
		if k < len(ids) {
			sizes[k] += n.SelfSize
		}
	}
	return timestamps, ids, sizes
}
