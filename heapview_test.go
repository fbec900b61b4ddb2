package heapview

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/hazyhaar/heapview/event"
	"github.com/hazyhaar/heapview/internal/backend"
	"github.com/hazyhaar/heapview/internal/perspective"
	"github.com/hazyhaar/heapview/internal/snapshot/snapshottest"
)

func newProfiler(t *testing.T, opts ...Option) (*Profiler, *backend.Replay) {
	t.Helper()
	return newProfilerWith(t, nil, opts...)
}

func newProfilerWith(t *testing.T, mutate func(*Config), opts ...Option) (*Profiler, *backend.Replay) {
	t.Helper()
	replay := backend.NewReplay(snapshottest.DefaultPayload(), backend.WithChunkSize(256))
	cfg := DefaultConfig()
	cfg.Profiler.SearchDelay = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]Option{
		WithBackend(replay),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	p := New(cfg, opts...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p, replay
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func snapshotNow(t *testing.T, p *Profiler) SessionInfo {
	t.Helper()
	ctx := testCtx(t)
	info, err := p.TakeSnapshot(ctx)
	if err != nil {
		t.Fatalf("take snapshot: %v", err)
	}
	info, err = p.Wait(ctx, info.UID)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return info
}

func rowByName(rows []Row, name string) (Row, bool) {
	for _, r := range rows {
		if r.Name == name {
			return r, true
		}
	}
	return Row{}, false
}

func TestProfiler_NotStarted(t *testing.T) {
	p := New(nil)
	if _, err := p.TakeSnapshot(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("take snapshot: got %v, want %v", err, ErrNotStarted)
	}
	if _, err := p.Sessions(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("sessions: got %v, want %v", err, ErrNotStarted)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestProfiler_RestartRefused(t *testing.T) {
	p, _ := newProfiler(t)
	if err := p.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("second start: got %v, want %v", err, ErrStarted)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("start after stop: got %v, want %v", err, ErrStopped)
	}
}

func TestProfiler_TakeSnapshot(t *testing.T) {
	p, _ := newProfiler(t)
	info := snapshotNow(t, p)
	if info.Title != "Snapshot 1" {
		t.Fatalf("title: got %q, want Snapshot 1", info.Title)
	}
	if info.State != "loaded" || !info.CanSave {
		t.Fatalf("info: got %+v", info)
	}
	if info.MaxObjectID != 14 {
		t.Fatalf("max object id: got %d, want 14", info.MaxObjectID)
	}
	list, err := p.Sessions()
	if err != nil || len(list) != 1 {
		t.Fatalf("sessions: got %v, %v", list, err)
	}
}

func TestProfiler_ShowSummary(t *testing.T) {
	p, _ := newProfiler(t)
	info := snapshotNow(t, p)
	st, err := p.Show(testCtx(t), 0)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if st.UID != info.UID || st.Perspective != "Summary" {
		t.Fatalf("view: got uid %d perspective %q", st.UID, st.Perspective)
	}
	if r, ok := rowByName(st.Rows, "Foo"); !ok || r.Count != 2 {
		t.Fatalf("Foo row: got %+v %v", r, ok)
	}
	if !slices.Contains(st.Available, "Containment") || slices.Contains(st.Available, "Allocation") {
		t.Fatalf("available: got %v", st.Available)
	}
	if len(st.FilterOptions) == 0 || st.FilterOptions[0] != "All objects" {
		t.Fatalf("filter options: got %v", st.FilterOptions)
	}
	if p.Shown() != info.UID {
		t.Fatalf("shown: got %d, want %d", p.Shown(), info.UID)
	}
}

func TestProfiler_SelectPerspective(t *testing.T) {
	p, _ := newProfiler(t)
	snapshotNow(t, p)
	ctx := testCtx(t)

	st, err := p.SelectPerspective(ctx, 0, "containment")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if st.Perspective != "Containment" || len(st.Rows) == 0 {
		t.Fatalf("containment: got %q with %d rows", st.Perspective, len(st.Rows))
	}
	if _, err := p.SelectPerspective(ctx, 0, "Nope"); !errors.Is(err, ErrUnknownPerspective) {
		t.Fatalf("unknown: got %v, want %v", err, ErrUnknownPerspective)
	}
	if _, err := p.SelectPerspective(ctx, 0, "Allocation"); !errors.Is(err, perspective.ErrUnavailable) {
		t.Fatalf("allocation on snapshot: got %v, want %v", err, perspective.ErrUnavailable)
	}
}

func TestProfiler_SearchAndNavigate(t *testing.T) {
	p, _ := newProfiler(t)
	snapshotNow(t, p)
	ctx := testCtx(t)

	st, err := p.Search(ctx, 0, SearchQuery{Text: "  Foo "})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if st.Query != "Foo" || st.Matches != 2 || st.Current != -1 {
		t.Fatalf("search: got %+v", st)
	}
	next, err := p.Next(0)
	if err != nil || next.Current != 0 {
		t.Fatalf("next: got %+v, %v", next, err)
	}
	prev, err := p.Previous(0)
	if err != nil || prev.Current != 1 {
		t.Fatalf("previous: got %+v, %v", prev, err)
	}

	st, err = p.Search(ctx, 0, SearchQuery{Text: "@9"})
	if err != nil || !slices.Equal(st.Results, []uint64{9}) {
		t.Fatalf("id search: got %+v, %v", st, err)
	}
	st, err = p.Search(ctx, 0, SearchQuery{Text: "@abc"})
	if err != nil || st.Matches != 0 {
		t.Fatalf("bad id search: got %+v, %v", st, err)
	}
}

func TestProfiler_SearchStatistics(t *testing.T) {
	p, _ := newProfiler(t)
	snapshotNow(t, p)
	ctx := testCtx(t)
	if _, err := p.SelectPerspective(ctx, 0, "Statistics"); err != nil {
		t.Fatalf("select: %v", err)
	}
	st, err := p.Search(ctx, 0, SearchQuery{Text: "Foo"})
	if err != nil || st.Matches != 0 {
		t.Fatalf("statistics search: got %+v, %v", st, err)
	}
	recs, err := p.Statistics(ctx, 0)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if last := recs[len(recs)-1]; last.Title != "Total" || last.Bytes != 1036 {
		t.Fatalf("total: got %+v", last)
	}
}

func TestProfiler_RevealObject(t *testing.T) {
	p, replay := newProfiler(t)
	first := snapshotNow(t, p)
	ctx := testCtx(t)

	found, err := p.RevealObject(ctx, first.UID, 9, "Containment")
	if err != nil || !found {
		t.Fatalf("reveal 9: got %v, %v", found, err)
	}
	if !slices.Contains(replay.Inspected(), 9) {
		t.Fatalf("inspected: got %v", replay.Inspected())
	}
	found, err = p.RevealObject(ctx, first.UID, 99, "Summary")
	if err != nil || found {
		t.Fatalf("reveal 99: got %v, %v", found, err)
	}

	// An id newer than the first snapshot is revealed in the second one.
	nodes := snapshottest.Default()
	nodes[1].Edges = nodes[1].Edges[1:]
	nodes[2] = snapshottest.Node{Type: "object", Name: "Bar", ID: 21, SelfSize: 48}
	replay.SetPayload(snapshottest.Payload(nodes, nil))
	second := snapshotNow(t, p)

	found, err = p.RevealObject(ctx, first.UID, 21, "Summary")
	if err != nil || !found {
		t.Fatalf("reveal 21: got %v, %v", found, err)
	}
	if p.Shown() != second.UID {
		t.Fatalf("shown: got %d, want %d", p.Shown(), second.UID)
	}
}

func TestProfiler_Comparison(t *testing.T) {
	p, replay := newProfiler(t)
	first := snapshotNow(t, p)
	nodes := snapshottest.Default()
	nodes[1].Edges = nodes[1].Edges[1:]
	nodes[2] = snapshottest.Node{Type: "object", Name: "Bar", ID: 21, SelfSize: 48}
	replay.SetPayload(snapshottest.Payload(nodes, nil))
	second := snapshotNow(t, p)
	ctx := testCtx(t)

	st, err := p.SelectPerspective(ctx, second.UID, "Comparison")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if st.Base != first.UID {
		t.Fatalf("base: got %d, want %d", st.Base, first.UID)
	}
	if r, ok := rowByName(st.Rows, "Bar"); !ok || r.CountDelta != 1 {
		t.Fatalf("Bar: got %+v %v", r, ok)
	}

	st, err = p.SetBase(ctx, second.UID, second.UID)
	if err != nil {
		t.Fatalf("set base: %v", err)
	}
	if len(st.Rows) != 0 {
		t.Fatalf("self diff: got %d rows", len(st.Rows))
	}
}

func TestProfiler_Timeline(t *testing.T) {
	p, replay := newProfilerWith(t, func(c *Config) { c.Profiler.RecordAllocationStacks = true })
	ctx := testCtx(t)
	info, err := p.StartTracking(ctx)
	if err != nil {
		t.Fatalf("start tracking: %v", err)
	}
	if _, err := p.StartTracking(ctx); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second start: got %v, want %v", err, ErrAlreadyRecording)
	}
	replay.PushStats(backend.StatsFragment{Index: 0, Count: 3, Size: 300})
	replay.PushLastSeen(40, 1000)
	if _, err := p.StopTracking(ctx); err != nil {
		t.Fatalf("stop tracking: %v", err)
	}
	if _, err := p.StopTracking(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second stop: got %v, want %v", err, ErrNotRecording)
	}
	if info, err = p.Wait(ctx, info.UID); err != nil || info.Kind != "timeline" {
		t.Fatalf("wait: got %+v, %v", info, err)
	}

	st, err := p.SelectPerspective(ctx, info.UID, "Allocation")
	if err != nil {
		t.Fatalf("select allocation: %v", err)
	}
	if !st.Layout.AllocationDetails || len(st.Rows) == 0 {
		t.Fatalf("allocation view: got %+v", st)
	}
}

func TestProfiler_SaveAndLoad(t *testing.T) {
	p, _ := newProfiler(t)
	info := snapshotNow(t, p)
	ctx := testCtx(t)

	path := filepath.Join(t.TempDir(), "capture.heapsnapshot")
	got, err := p.Save(ctx, info.UID, path)
	if err != nil || got != path {
		t.Fatalf("save: got %q, %v", got, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, snapshottest.DefaultPayload()) {
		t.Fatalf("saved %d bytes, want the replay payload", len(data))
	}

	loaded, err := p.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded, err = p.Wait(ctx, loaded.UID)
	if err != nil {
		t.Fatalf("wait loaded: %v", err)
	}
	if !loaded.FromFile || loaded.Title != "capture.heapsnapshot" || loaded.CanSave {
		t.Fatalf("loaded: got %+v", loaded)
	}

	if _, err := p.Load(filepath.Join(t.TempDir(), "missing.heapsnapshot")); err == nil {
		t.Fatal("load missing: got nil error")
	}
}

func TestProfiler_RemoveDropsView(t *testing.T) {
	p, _ := newProfiler(t)
	info := snapshotNow(t, p)
	ctx := testCtx(t)
	if _, err := p.Show(ctx, info.UID); err != nil {
		t.Fatalf("show: %v", err)
	}
	if err := p.Remove(ctx, info.UID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if p.Shown() != 0 {
		t.Fatalf("shown after remove: got %d", p.Shown())
	}
	if _, err := p.Session(info.UID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session: got %v, want %v", err, ErrNotFound)
	}
	if _, err := p.Show(ctx, 0); !errors.Is(err, ErrNoSession) {
		t.Fatalf("show none: got %v, want %v", err, ErrNoSession)
	}
}

func TestProfiler_SinkReceivesEvents(t *testing.T) {
	kinds := make(chan event.Kind, 16)
	cb := NewCallbackSink(func(_ context.Context, ev event.Event) error {
		kinds <- ev.Kind
		return nil
	})
	p, _ := newProfiler(t, WithSinks(cb))
	snapshotNow(t, p)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case k := <-kinds:
			if k == event.KindSnapshotReceived {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot_received event")
		}
	}
}

func TestProfiler_HeapUsageWithoutPage(t *testing.T) {
	p, _ := newProfiler(t)
	if _, err := p.HeapUsage(context.Background()); !errors.Is(err, ErrNoPage) {
		t.Fatalf("heap usage: got %v, want %v", err, ErrNoPage)
	}
}

func TestProfiler_ProcessMemoryWithReplay(t *testing.T) {
	p, _ := newProfiler(t)
	if _, err := p.ProcessMemory(context.Background()); !errors.Is(err, ErrNoPage) {
		t.Fatalf("process memory: got %v, want %v", err, ErrNoPage)
	}
}
