package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatsUpdate(t *testing.T) {
	got := ParseStatsUpdate([]int{0, 3, 300, 1, 1, 50, 9})
	if len(got) != 2 {
		t.Fatalf("fragments: got %d, want 2", len(got))
	}
	if got[1] != (StatsFragment{Index: 1, Count: 1, Size: 50}) {
		t.Fatalf("fragment 1: got %+v", got[1])
	}
}

func collect(t *testing.T, r *Replay) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
			if ev.Kind == EventCaptureComplete {
				return out
			}
		case <-timeout:
			t.Fatal("capture did not complete")
		}
	}
}

func TestReplay_CaptureOrder(t *testing.T) {
	r := NewReplay([]byte(strings.Repeat("x", 10)), WithChunkSize(3), WithProgressSteps(2))
	defer r.Close()
	if err := r.TakeSnapshot(context.Background()); err != nil {
		t.Fatalf("take: %v", err)
	}
	evs := collect(t, r)

	var kinds []EventKind
	var payload strings.Builder
	for _, ev := range evs {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventChunk {
			payload.WriteString(ev.Chunk)
		}
	}
	want := []EventKind{EventProgress, EventProgress, EventProgress,
		EventChunk, EventChunk, EventChunk, EventChunk, EventCaptureComplete}
	if len(kinds) != len(want) {
		t.Fatalf("kinds: got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kind %d: got %s, want %s", i, kinds[i], want[i])
		}
	}
	if !evs[2].Progress.Finished {
		t.Fatal("last progress not finished")
	}
	if payload.String() != strings.Repeat("x", 10) {
		t.Fatalf("payload: got %q", payload.String())
	}
}

func TestReplay_FailNext(t *testing.T) {
	r := NewReplay([]byte("{}"))
	defer r.Close()
	boom := errors.New("target crashed")
	r.FailNext(boom)
	r.TakeSnapshot(context.Background())
	evs := collect(t, r)
	if len(evs) != 1 || !errors.Is(evs[0].Err, boom) {
		t.Fatalf("events: got %+v", evs)
	}
}

func TestReplay_TrackingAndInspect(t *testing.T) {
	ctx := context.Background()
	r := NewReplay([]byte("{}"))
	defer r.Close()
	r.StartTracking(ctx, true)
	if on, stacks := r.Tracking(); !on || !stacks {
		t.Fatalf("tracking: got %v %v", on, stacks)
	}
	r.AddInspectedObject(ctx, 42)
	if got := r.Inspected(); len(got) != 1 || got[0] != 42 {
		t.Fatalf("inspected: got %v", got)
	}
	r.StopTracking(ctx)
	collect(t, r)
	if on, _ := r.Tracking(); on {
		t.Fatal("tracking still on")
	}
}

func TestReplay_ClosedCommands(t *testing.T) {
	r := NewReplay(nil)
	r.Close()
	if err := r.TakeSnapshot(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("take after close: got %v", err)
	}
	if _, ok := <-r.Events(); ok {
		t.Fatal("events channel still open")
	}
}
