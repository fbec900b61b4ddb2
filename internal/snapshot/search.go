package snapshot

import (
	"context"
	"regexp"
	"strings"
)

// NodeFilter restricts the nodes a view shows. Zero values disable each
// criterion. MaxNodeID is exclusive.
type NodeFilter struct {
	MinNodeID        uint64
	MaxNodeID        uint64
	AllocationNodeID int64
	// ClassName keeps classes whose name contains it, case-insensitively.
	ClassName string
}

func (f NodeFilter) matchNode(n *Node) bool {
	if f.MinNodeID != 0 && n.ID < f.MinNodeID {
		return false
	}
	if f.MaxNodeID != 0 && n.ID >= f.MaxNodeID {
		return false
	}
	if f.AllocationNodeID != 0 && n.TraceNodeID != f.AllocationNodeID {
		return false
	}
	return true
}

// Match reports whether n passes every criterion of f.
func (f NodeFilter) Match(n *Node) bool {
	return f.matchNode(n) && f.matchClass(ClassName(n))
}

func (f NodeFilter) matchClass(name string) bool {
	if f.ClassName == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(f.ClassName))
}

// Query describes a name search.
type Query struct {
	Text          string
	CaseSensitive bool
	Regex         bool
}

// checkEvery is how many nodes Search scans between context checks.
const checkEvery = 4096

// Search returns the ids of nodes passing filter whose name matches q, in
// node order. An invalid regular expression matches nothing.
func (s *Snapshot) Search(ctx context.Context, q Query, filter NodeFilter) ([]uint64, error) {
	match, ok := matcher(q)
	if !ok {
		return nil, nil
	}
	var ids []uint64
	for i := range s.nodes {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n := &s.nodes[i]
		if !filter.matchNode(n) || !filter.matchClass(ClassName(n)) {
			continue
		}
		if match(n.Name) {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

func matcher(q Query) (func(string) bool, bool) {
	if q.Text == "" {
		return nil, false
	}
	if q.Regex {
		expr := q.Text
		if !q.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, false
		}
		return re.MatchString, true
	}
	if q.CaseSensitive {
		return func(name string) bool { return strings.Contains(name, q.Text) }, true
	}
	needle := strings.ToLower(q.Text)
	return func(name string) bool { return strings.Contains(strings.ToLower(name), needle) }, true
}
