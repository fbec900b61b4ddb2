package samples

import "testing"

func TestSeries_LastSeenClosesFragments(t *testing.T) {
	s := New()
	s.ApplyStatsUpdate([]StatsFragment{{Index: 0, Count: 3, Size: 300}})
	s.ApplyLastSeenObjectID(10, 1000)
	s.ApplyStatsUpdate([]StatsFragment{{Index: 1, Count: 1, Size: 50}})
	s.ApplyLastSeenObjectID(20, 1100)

	d := s.Snapshot()
	if d.Len() != 2 {
		t.Fatalf("len: got %d, want 2", d.Len())
	}
	if d.IDs[0] != 10 || d.IDs[1] != 20 {
		t.Fatalf("ids: got %v, want [10 20]", d.IDs)
	}
	if d.Sizes[0] != 300 || d.Sizes[1] != 50 {
		t.Fatalf("sizes: got %v, want [300 50]", d.Sizes)
	}
}

func TestSeries_MaxNeverDecreases(t *testing.T) {
	s := New()
	s.ApplyStatsUpdate([]StatsFragment{{Index: 0, Size: 500}})
	s.ApplyLastSeenObjectID(10, 1000)
	s.ApplyStatsUpdate([]StatsFragment{{Index: 0, Size: 100}})
	s.ApplyStatsUpdate([]StatsFragment{{Index: 0, Size: 700}})
	s.ApplyStatsUpdate([]StatsFragment{{Index: 0, Size: 200}})

	d := s.Snapshot()
	if d.Sizes[0] != 200 {
		t.Fatalf("size: got %d, want 200", d.Sizes[0])
	}
	if d.MaxSizes[0] != 700 {
		t.Fatalf("max: got %d, want 700", d.MaxSizes[0])
	}
}

func TestSeries_TotalTimeDoubles(t *testing.T) {
	s := New()
	s.ApplyLastSeenObjectID(1, 1000)
	s.ApplyLastSeenObjectID(2, 1000+31000)
	if got := s.TotalTime(); got != 60000 {
		t.Fatalf("total time: got %v, want 60000", got)
	}
	// A jump past several horizons doubles until it fits.
	s.ApplyLastSeenObjectID(3, 1000+200000)
	if got := s.TotalTime(); got != 240000 {
		t.Fatalf("total time: got %v, want 240000", got)
	}
}

func TestSeries_HundredFragments(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		s.ApplyStatsUpdate([]StatsFragment{{Index: i, Count: 1, Size: int64(10 * (i + 1))}})
		s.ApplyLastSeenObjectID(uint64(2*(i+1)), float64(1000+i*500))
	}
	d := s.Snapshot()
	if d.Len() != 100 {
		t.Fatalf("len: got %d, want 100", d.Len())
	}
	for i := 1; i < d.Len(); i++ {
		if d.Timestamps[i] < d.Timestamps[i-1] || d.IDs[i] < d.IDs[i-1] {
			t.Fatalf("fragment %d not monotonic", i)
		}
	}
	// Last timestamp is 50500, span 49500: one doubling.
	if d.TotalTime != 60000 {
		t.Fatalf("total time: got %v, want 60000", d.TotalTime)
	}
}

func TestSeries_NonMonotonicInputClamped(t *testing.T) {
	s := New()
	s.ApplyLastSeenObjectID(50, 2000)
	s.ApplyLastSeenObjectID(40, 1500)
	d := s.Snapshot()
	if d.IDs[1] != 50 || d.Timestamps[1] != 2000 {
		t.Fatalf("clamp: got id %d ts %v, want 50 2000", d.IDs[1], d.Timestamps[1])
	}
}

func TestSeries_IDRange(t *testing.T) {
	s := New()
	// Fragments at t=0s, 7.5s, 15s, 22.5s relative to start.
	for i, ts := range []float64{1000, 8500, 16000, 23500} {
		s.ApplyStatsUpdate([]StatsFragment{{Index: i, Size: int64(100 * (i + 1))}})
		s.ApplyLastSeenObjectID(uint64(10*(i+1)), ts)
	}

	full := s.IDRange(0, 1)
	if full.MinID != 0 || full.MaxID != 40 {
		t.Fatalf("full range: got (%d,%d], want (0,40]", full.MinID, full.MaxID)
	}
	if full.Size != 1000 {
		t.Fatalf("full size: got %d, want 1000", full.Size)
	}

	// Window [0.25, 0.5] of 30s covers t in [8.5s, 16s] absolute.
	mid := s.IDRange(0.25, 0.5)
	if mid.MinID != 10 || mid.MaxID != 30 {
		t.Fatalf("mid range: got (%d,%d], want (10,30]", mid.MinID, mid.MaxID)
	}
	if mid.Size != 200+300 {
		t.Fatalf("mid size: got %d, want 500", mid.Size)
	}
}

func TestSeries_IDRangeEmpty(t *testing.T) {
	if r := New().IDRange(0, 1); r != (IDRange{}) {
		t.Fatalf("empty range: got %+v", r)
	}
}

func TestSeries_FromRecorded(t *testing.T) {
	s := FromRecorded([]float64{0, 500, 2500}, []uint64{1, 5, 9}, []int64{10, 20, 30})
	if s.TotalTime() != 2500 {
		t.Fatalf("total time: got %v, want 2500", s.TotalTime())
	}
	d := s.Snapshot()
	if d.MaxSizes[2] != 30 {
		t.Fatalf("max: got %d, want 30", d.MaxSizes[2])
	}
}

func TestSeries_Subscribe(t *testing.T) {
	s := New()
	calls := 0
	cancel := s.Subscribe(func() { calls++ })
	s.ApplyLastSeenObjectID(1, 1)
	cancel()
	s.ApplyLastSeenObjectID(2, 2)
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}
