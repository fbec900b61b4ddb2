// CLAUDE:SUMMARY Perspective kinds and the function table that attaches and detaches each perspective's views and controls.
// Package perspective switches a loaded heap session between its views:
// Summary, Comparison, Containment, Allocation and Statistics.
package perspective

import (
	"fmt"
	"strings"
)

// Kind identifies a perspective.
type Kind int

const (
	Summary Kind = iota
	Comparison
	Containment
	Allocation
	Statistics
)

var allKinds = []Kind{Summary, Comparison, Containment, Allocation, Statistics}

func (k Kind) String() string {
	if op, ok := perspectives[k]; ok {
		return op.title
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Searchable reports whether the perspective's master grid takes searches.
func (k Kind) Searchable() bool { return perspectives[k].supportsSearch }

// ParseKind maps a perspective title to its Kind, ignoring case.
func ParseKind(name string) (Kind, bool) {
	for _, k := range allKinds {
		if strings.EqualFold(perspectives[k].title, strings.TrimSpace(name)) {
			return k, true
		}
	}
	return 0, false
}

// Layout is what the host shows for the active perspective.
type Layout struct {
	Main    GridKind `json:"main"`
	Details bool     `json:"details"` // retainers / details pane under the main grid

	BaseSelector      bool `json:"base_selector,omitempty"`
	ClassFilter       bool `json:"class_filter,omitempty"`
	FilterSelector    bool `json:"filter_selector,omitempty"`
	AllocationDetails bool `json:"allocation_details,omitempty"` // constructors grid linked to the selected allocation
	TrackingOverview  bool `json:"tracking_overview,omitempty"`
	StatisticsPane    bool `json:"statistics_pane,omitempty"`
}

type perspectiveOps struct {
	title          string
	supportsSearch bool
	master         GridKind
	activate       func(c *Controller, l *Layout)
}

// perspectives is the dispatch table used by applyPerspective.
var perspectives = map[Kind]perspectiveOps{
	Summary: {
		title:          "Summary",
		supportsSearch: true,
		master:         GridConstructors,
		activate: func(c *Controller, l *Layout) {
			l.Details = true
			l.ClassFilter = true
			l.FilterSelector = true
			l.TrackingOverview = c.overview != nil
		},
	},
	Comparison: {
		title:          "Comparison",
		supportsSearch: true,
		master:         GridDiff,
		activate: func(c *Controller, l *Layout) {
			l.Details = true
			l.BaseSelector = true
			l.ClassFilter = true
		},
	},
	Containment: {
		title:          "Containment",
		supportsSearch: true,
		master:         GridContainment,
		activate: func(c *Controller, l *Layout) {
			l.Details = true
		},
	},
	Allocation: {
		title:  "Allocation",
		master: GridAllocation,
		activate: func(c *Controller, l *Layout) {
			l.Details = true
			l.AllocationDetails = true
		},
	},
	Statistics: {
		title:  "Statistics",
		master: GridNone,
		activate: func(c *Controller, l *Layout) {
			l.StatisticsPane = true
		},
	},
}

// applyPerspective attaches (on) or detaches (off) the views of k. It is
// the only place perspective-specific wiring happens.
func applyPerspective(c *Controller, k Kind, on bool) {
	op := perspectives[k]
	if !on {
		if c.overview != nil {
			c.overview.Hide()
		}
		c.layout = Layout{}
		return
	}
	l := Layout{Main: op.master}
	op.activate(c, &l)
	c.layout = l
	if l.TrackingOverview {
		c.overview.Show()
		c.overview.ScheduleGridUpdate()
	}
}
