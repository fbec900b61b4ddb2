package heapview

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/segmentio/encoding/json"
)

var testMCPImpl = &mcp.Implementation{Name: "test", Version: "v0.0.1"}

func connectMCP(t *testing.T, p *Profiler) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(&mcp.Implementation{Name: "heapview", Version: "test"}, nil)
	p.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(testCtx(t), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if !res.IsError && out != nil {
		text := res.Content[0].(*mcp.TextContent).Text
		if err := json.Unmarshal([]byte(text), out); err != nil {
			t.Fatalf("%s: decode %s: %v", name, text, err)
		}
	}
	return res
}

func TestMCP_ListTools(t *testing.T) {
	p, _ := newProfiler(t)
	cs := connectMCP(t, p)

	res, err := cs.ListTools(testCtx(t), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if got, want := len(res.Tools), len(p.operations()); got != want {
		t.Fatalf("tools: got %d, want %d", got, want)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"heapview_take_snapshot", "heapview_select_perspective", "heapview_search", "heapview_next_result", "heapview_previous_result", "heapview_reveal_object"} {
		if !names[want] {
			t.Fatalf("missing tool %s", want)
		}
	}
}

func TestMCP_SnapshotSearchReveal(t *testing.T) {
	p, replay := newProfiler(t)
	cs := connectMCP(t, p)

	var info SessionInfo
	if res := callTool(t, cs, "heapview_take_snapshot", map[string]any{"wait": true}, &info); res.IsError {
		t.Fatalf("take snapshot: %+v", res.Content)
	}
	if info.UID == 0 || info.State != "loaded" {
		t.Fatalf("snapshot: got %+v", info)
	}

	var st SearchState
	callTool(t, cs, "heapview_search", map[string]any{"text": "Foo", "jump": true}, &st)
	if st.Matches != 2 || st.Current != 0 {
		t.Fatalf("search: got %+v", st)
	}
	callTool(t, cs, "heapview_next_result", nil, &st)
	if st.Current != 1 {
		t.Fatalf("next: got %+v", st)
	}

	var rev RevealResult
	callTool(t, cs, "heapview_reveal_object", map[string]any{"id": 9, "perspective": "Containment"}, &rev)
	if !rev.Found || rev.UID != info.UID {
		t.Fatalf("reveal: got %+v", rev)
	}
	var view ViewState
	callTool(t, cs, "heapview_show", map[string]any{"uid": info.UID}, &view)
	if view.Perspective != "Containment" || view.Selected != 9 {
		t.Fatalf("view: got perspective %q selected %d", view.Perspective, view.Selected)
	}
	if len(replay.Inspected()) == 0 {
		t.Fatal("no object inspected")
	}
}

func TestMCP_Errors(t *testing.T) {
	p, _ := newProfiler(t)
	cs := connectMCP(t, p)

	if res := callTool(t, cs, "heapview_select_perspective", map[string]any{"perspective": "Summary"}, nil); !res.IsError {
		t.Fatal("select without session: expected tool error")
	}
	if res := callTool(t, cs, "heapview_stop_tracking", nil, nil); !res.IsError {
		t.Fatal("stop without tracking: expected tool error")
	}
	if res := callTool(t, cs, "heapview_heap_usage", nil, nil); !res.IsError {
		t.Fatal("heap usage without page: expected tool error")
	}
}
