// CLAUDE:SUMMARY Time-series of heap allocation fragments fed by stats updates and last-seen object ids; answers id-range queries.
// Package samples records the live-heap time series of an allocation
// timeline recording.
//
// Each fragment i carries the top object id assigned by the time it was
// closed, its timestamp, its current live size and the largest size ever
// reported for it. Stats updates rewrite sizes of existing fragments;
// a last-seen object id closes the current fragment.
package samples

import (
	"sync"
)

// InitialTotalTime is the starting horizon of a recording in milliseconds.
// It doubles whenever the recording outgrows it.
const InitialTotalTime = 30000.0

// StatsFragment is one (index, count, size) triple of a heap stats update.
// Count is carried for completeness; the series only stores sizes.
type StatsFragment struct {
	Index int
	Count int64
	Size  int64
}

// IDRange is the object id interval covered by a time window, plus the
// live size allocated inside it. MinID is exclusive, MaxID inclusive.
type IDRange struct {
	MinID uint64
	MaxID uint64
	Size  int64
}

// Data is a copy of the series, truncated to fragments that have been
// closed by a last-seen object id.
type Data struct {
	Sizes      []int64
	MaxSizes   []int64
	IDs        []uint64
	Timestamps []float64
	TotalTime  float64
}

// Len returns the number of closed fragments.
func (d Data) Len() int { return len(d.Timestamps) }

// Series is safe for concurrent use.
type Series struct {
	mu         sync.RWMutex
	sizes      []int64
	max        []int64
	ids        []uint64
	timestamps []float64
	seen       int // fragments closed by a last-seen id
	totalTime  float64

	listeners map[int]func()
	nextID    int
}

// New returns an empty series with the initial horizon.
func New() *Series {
	return &Series{totalTime: InitialTotalTime, listeners: make(map[int]func())}
}

// FromRecorded builds a series from samples stored in a timeline file.
// The horizon is the last timestamp and the max sizes equal the sizes.
func FromRecorded(timestamps []float64, ids []uint64, sizes []int64) *Series {
	n := min(len(timestamps), len(ids), len(sizes))
	s := New()
	s.grow(n)
	copy(s.timestamps, timestamps[:n])
	copy(s.ids, ids[:n])
	copy(s.sizes, sizes[:n])
	copy(s.max, sizes[:n])
	s.seen = n
	if n > 0 && timestamps[n-1] > 0 {
		s.totalTime = timestamps[n-1]
	}
	return s
}

func (s *Series) grow(n int) {
	for len(s.sizes) < n {
		s.sizes = append(s.sizes, 0)
		s.max = append(s.max, 0)
		s.ids = append(s.ids, 0)
		s.timestamps = append(s.timestamps, 0)
	}
}

// ApplyStatsUpdate records the current size of each listed fragment.
// The max size of a fragment never decreases.
func (s *Series) ApplyStatsUpdate(frags []StatsFragment) {
	s.mu.Lock()
	for _, f := range frags {
		if f.Index < 0 {
			continue
		}
		s.grow(f.Index + 1)
		s.sizes[f.Index] = f.Size
		if f.Size > s.max[f.Index] {
			s.max[f.Index] = f.Size
		}
	}
	s.mu.Unlock()
}

// ApplyLastSeenObjectID closes the current fragment at the given id and
// timestamp (milliseconds) and notifies subscribers.
func (s *Series) ApplyLastSeenObjectID(id uint64, timestampMs float64) {
	s.mu.Lock()
	idx := max(s.seen, len(s.max)-1)
	s.grow(idx + 1)
	if idx > 0 {
		if prev := s.ids[idx-1]; id < prev {
			id = prev
		}
		if prev := s.timestamps[idx-1]; timestampMs < prev {
			timestampMs = prev
		}
	}
	s.ids[idx] = id
	s.timestamps[idx] = timestampMs
	s.seen = idx + 1

	if s.totalTime <= 0 {
		s.totalTime = InitialTotalTime
	}
	for s.totalTime < timestampMs-s.timestamps[0] {
		s.totalTime *= 2
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (s *Series) snapshotListeners() []func() {
	out := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// Subscribe registers fn to run after every last-seen update. The
// returned func removes the subscription.
func (s *Series) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Len returns the number of closed fragments.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seen
}

// TotalTime returns the current horizon in milliseconds.
func (s *Series) TotalTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalTime
}

// Snapshot copies the closed fragments.
func (s *Series) Snapshot() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.seen
	return Data{
		Sizes:      append([]int64(nil), s.sizes[:n]...),
		MaxSizes:   append([]int64(nil), s.max[:n]...),
		IDs:        append([]uint64(nil), s.ids[:n]...),
		Timestamps: append([]float64(nil), s.timestamps[:n]...),
		TotalTime:  s.totalTime,
	}
}

// IDRange maps a window given as fractions of the horizon (0 <= left <=
// right <= 1) to the object ids allocated inside it.
func (s *Series) IDRange(left, right float64) IDRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.seen
	if n == 0 {
		return IDRange{}
	}
	start := s.timestamps[0]
	timeLeft := start + s.totalTime*left
	timeRight := start + s.totalTime*right

	r := IDRange{MaxID: s.ids[n-1] + 1}
	for i := 0; i < n; i++ {
		ts := s.timestamps[i]
		if ts == 0 {
			continue
		}
		if ts > timeRight {
			break
		}
		r.MaxID = s.ids[i]
		if ts < timeLeft {
			r.MinID = s.ids[i]
			continue
		}
		r.Size += s.sizes[i]
	}
	return r
}
