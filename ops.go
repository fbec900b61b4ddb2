package heapview

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/heapview/kit"
)

// operation is one host operation shared by the MCP and HTTP surfaces.
type operation struct {
	name        string
	description string
	props       map[string]any
	required    []string
	newReq      func() any
	endpoint    kit.Endpoint
}

// sessionTarget is implemented by requests that name a session.
type sessionTarget interface {
	sessionUID() int
	setSessionUID(uid int)
}

type uidReq struct {
	UID int `json:"uid,omitempty"`
}

func (r *uidReq) sessionUID() int       { return r.UID }
func (r *uidReq) setSessionUID(uid int) { r.UID = uid }

type emptyReq struct{}

type captureReq struct {
	Wait bool `json:"wait,omitempty"`
}

type saveReq struct {
	uidReq
	Path string `json:"path,omitempty"`
}

type loadReq struct {
	Path string `json:"path"`
	Wait bool   `json:"wait,omitempty"`
}

type perspectiveReq struct {
	uidReq
	Perspective string `json:"perspective"`
}

type searchReq struct {
	uidReq
	Text          string `json:"text"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	Regex         bool   `json:"regex,omitempty"`
	Jump          bool   `json:"jump,omitempty"`
	Backward      bool   `json:"backward,omitempty"`
}

type revealReq struct {
	uidReq
	ID          uint64 `json:"id"`
	Perspective string `json:"perspective"`
}

type baseReq struct {
	uidReq
	Base int `json:"base"`
}

type filterReq struct {
	uidReq
	Index int `json:"index"`
}

type classFilterReq struct {
	uidReq
	Text string `json:"text"`
}

type allocationReq struct {
	uidReq
	TraceNodeID int64 `json:"trace_node_id"`
}

// RevealResult reports where an object was revealed.
type RevealResult struct {
	Found bool `json:"found"`
	UID   int  `json:"uid"` // session shown after the call
}

// HeapUsage is the target page's live JS heap. Process fields are set
// for a locally launched Chrome.
type HeapUsage struct {
	Bytes        int64  `json:"bytes"`
	Size         string `json:"size"`
	ProcessBytes uint64 `json:"process_bytes,omitempty"`
	ProcessSize  string `json:"process_size,omitempty"`
}

var uidProp = map[string]any{"type": "integer", "description": "Session uid; 0 or absent uses the shown session"}

func props(kv ...any) map[string]any {
	m := map[string]any{"uid": uidProp}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// Shown returns the uid of the shown session, 0 if none.
func (p *Profiler) Shown() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Profiler) operations() []operation {
	return []operation{
		{
			name:        "take_snapshot",
			description: "Take a heap snapshot of the target page. With wait, return once it is parsed.",
			props:       map[string]any{"wait": prop("boolean", "Wait until the snapshot is parsed")},
			newReq:      func() any { return &captureReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				info, err := p.TakeSnapshot(ctx)
				if err != nil || !req.(*captureReq).Wait {
					return info, err
				}
				return p.Wait(ctx, info.UID)
			},
		},
		{
			name:        "start_tracking",
			description: "Start recording an allocation timeline.",
			props:       map[string]any{},
			newReq:      func() any { return &emptyReq{} },
			endpoint: func(ctx context.Context, _ any) (any, error) {
				return p.StartTracking(ctx)
			},
		},
		{
			name:        "stop_tracking",
			description: "Stop the allocation timeline. With wait, return once its snapshot is parsed.",
			props:       map[string]any{"wait": prop("boolean", "Wait until the final snapshot is parsed")},
			newReq:      func() any { return &captureReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				info, err := p.StopTracking(ctx)
				if err != nil || !req.(*captureReq).Wait {
					return info, err
				}
				return p.Wait(ctx, info.UID)
			},
		},
		{
			name:        "sessions",
			description: "List heap sessions in creation order.",
			props:       map[string]any{},
			newReq:      func() any { return &emptyReq{} },
			endpoint: func(context.Context, any) (any, error) {
				return p.Sessions()
			},
		},
		{
			name:        "session",
			description: "Describe one heap session.",
			props:       props(),
			newReq:      func() any { return &uidReq{} },
			endpoint: func(_ context.Context, req any) (any, error) {
				return p.Session(req.(*uidReq).UID)
			},
		},
		{
			name:        "remove",
			description: "Dispose a heap session. Removing the recording timeline stops tracking.",
			props:       props(),
			required:    []string{"uid"},
			newReq:      func() any { return &uidReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				uid := req.(*uidReq).UID
				if err := p.Remove(ctx, uid); err != nil {
					return nil, err
				}
				return map[string]int{"removed": uid}, nil
			},
		},
		{
			name:        "save",
			description: "Save the raw capture of a session to a file.",
			props:       props("path", prop("string", "Destination path; empty uses Heap-<timestamp>.heapsnapshot")),
			newReq:      func() any { return &saveReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				r := req.(*saveReq)
				path, err := p.Save(ctx, r.UID, r.Path)
				if err != nil {
					return nil, err
				}
				return map[string]string{"path": path}, nil
			},
		},
		{
			name:        "load",
			description: "Load a saved .heapsnapshot or .heaptimeline file as a new session.",
			props: map[string]any{
				"path": prop("string", "File to load"),
				"wait": prop("boolean", "Wait until the file is parsed"),
			},
			required: []string{"path"},
			newReq:   func() any { return &loadReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				r := req.(*loadReq)
				info, err := p.Load(r.Path)
				if err != nil || !r.Wait {
					return info, err
				}
				return p.Wait(ctx, info.UID)
			},
		},
		{
			name:        "show",
			description: "Show a session and return its current perspective view.",
			props:       props(),
			newReq:      func() any { return &uidReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				return p.Show(ctx, req.(*uidReq).UID)
			},
		},
		{
			name:        "select_perspective",
			description: "Switch the view to Summary, Comparison, Containment, Allocation or Statistics.",
			props:       props("perspective", prop("string", "Perspective name")),
			required:    []string{"perspective"},
			newReq:      func() any { return &perspectiveReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				r := req.(*perspectiveReq)
				return p.SelectPerspective(ctx, r.UID, r.Perspective)
			},
		},
		{
			name:        "search",
			description: "Search object names in the shown perspective. \"@<id>\" looks an object up by id.",
			props: props(
				"text", prop("string", "Query text"),
				"case_sensitive", prop("boolean", "Match case"),
				"regex", prop("boolean", "Treat text as a regular expression"),
				"jump", prop("boolean", "Reveal the first result"),
				"backward", prop("boolean", "With jump, reveal the last result"),
			),
			required: []string{"text"},
			newReq:   func() any { return &searchReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				r := req.(*searchReq)
				return p.Search(ctx, r.UID, SearchQuery{
					Text:          r.Text,
					CaseSensitive: r.CaseSensitive,
					Regex:         r.Regex,
					Jump:          r.Jump,
					Backward:      r.Backward,
				})
			},
		},
		{
			name:        "next_result",
			description: "Reveal the next search result.",
			props:       props(),
			newReq:      func() any { return &uidReq{} },
			endpoint: func(_ context.Context, req any) (any, error) {
				return p.Next(req.(*uidReq).UID)
			},
		},
		{
			name:        "previous_result",
			description: "Reveal the previous search result.",
			props:       props(),
			newReq:      func() any { return &uidReq{} },
			endpoint: func(_ context.Context, req any) (any, error) {
				return p.Previous(req.(*uidReq).UID)
			},
		},
		{
			name:        "reveal_object",
			description: "Reveal a heap object by id in the named perspective.",
			props: props(
				"id", prop("integer", "Heap object id"),
				"perspective", prop("string", "Perspective to reveal in"),
			),
			required: []string{"id", "perspective"},
			newReq:   func() any { return &revealReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				r := req.(*revealReq)
				found, err := p.RevealObject(ctx, r.UID, r.ID, r.Perspective)
				if err != nil {
					return nil, err
				}
				return RevealResult{Found: found, UID: p.Shown()}, nil
			},
		},
		{
			name:        "statistics",
			description: "Heap statistics of a session: code, strings, arrays, system objects and total.",
			props:       props(),
			newReq:      func() any { return &uidReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				return p.Statistics(ctx, req.(*uidReq).UID)
			},
		},
		{
			name:        "set_base",
			description: "Select the snapshot the Comparison perspective compares against.",
			props:       props("base", prop("integer", "Base snapshot uid")),
			required:    []string{"base"},
			newReq:      func() any { return &baseReq{} },
			endpoint: func(ctx context.Context, req any) (any, error) {
				r := req.(*baseReq)
				return p.SetBase(ctx, r.UID, r.Base)
			},
		},
		{
			name:        "set_filter",
			description: "Select a Summary object filter by index in filter_options.",
			props:       props("index", prop("integer", "Filter index")),
			required:    []string{"index"},
			newReq:      func() any { return &filterReq{} },
			endpoint: func(_ context.Context, req any) (any, error) {
				r := req.(*filterReq)
				return p.SetFilter(r.UID, r.Index)
			},
		},
		{
			name:        "set_class_filter",
			description: "Narrow the class grids to names containing text.",
			props:       props("text", prop("string", "Class name fragment")),
			newReq:      func() any { return &classFilterReq{} },
			endpoint: func(_ context.Context, req any) (any, error) {
				r := req.(*classFilterReq)
				return p.SetClassFilter(r.UID, r.Text)
			},
		},
		{
			name:        "select_allocation",
			description: "Link the allocation details to one allocation site.",
			props:       props("trace_node_id", prop("integer", "Allocation trace node id")),
			required:    []string{"trace_node_id"},
			newReq:      func() any { return &allocationReq{} },
			endpoint: func(_ context.Context, req any) (any, error) {
				r := req.(*allocationReq)
				return p.SelectAllocationNode(r.UID, r.TraceNodeID)
			},
		},
		{
			name:        "heap_usage",
			description: "Live JS heap size of the target page, plus Chrome's resident memory when launched locally.",
			props:       map[string]any{},
			newReq:      func() any { return &emptyReq{} },
			endpoint: func(ctx context.Context, _ any) (any, error) {
				n, err := p.HeapUsage(ctx)
				if err != nil {
					return nil, err
				}
				u := HeapUsage{Bytes: n, Size: humanize.Bytes(uint64(max(0, n)))}
				if rss, err := p.ProcessMemory(ctx); err == nil {
					u.ProcessBytes = rss
					u.ProcessSize = humanize.Bytes(rss)
				}
				return u, nil
			},
		},
	}
}
