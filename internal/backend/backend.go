// CLAUDE:SUMMARY Heap profiler backend contract: capture/tracking commands plus an ordered event stream (chunks, progress, stats, last-seen ids, resets, capture completion).
// Package backend talks to a heap profiler agent. Commands start work;
// results arrive in order on the Events channel, and every capture ends
// with exactly one EventCaptureComplete after its last chunk.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by commands after Close.
var ErrClosed = errors.New("backend: closed")

// EventKind discriminates Event.
type EventKind int

const (
	EventChunk EventKind = iota + 1
	EventProgress
	EventStatsUpdate
	EventLastSeenObjectID
	EventResetProfiles
	EventCaptureComplete
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventProgress:
		return "progress"
	case EventStatsUpdate:
		return "stats_update"
	case EventLastSeenObjectID:
		return "last_seen_object_id"
	case EventResetProfiles:
		return "reset_profiles"
	case EventCaptureComplete:
		return "capture_complete"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Progress reports snapshot serialization progress.
type Progress struct {
	Done     int
	Total    int
	Finished bool
}

// StatsFragment is one (index, count, size) triple of a stats update.
type StatsFragment struct {
	Index int
	Count int64
	Size  int64
}

// Event is one message from the agent. Only the fields of Kind are set.
type Event struct {
	Kind      EventKind
	Chunk     string
	Progress  Progress
	Stats     []StatsFragment
	ObjectID  uint64
	Timestamp float64 // milliseconds
	Err       error   // EventCaptureComplete only
}

// Backend is the agent contract.
type Backend interface {
	// Enable turns on the heap profiler domain.
	Enable(ctx context.Context) error
	// TakeSnapshot starts a capture with progress reporting.
	TakeSnapshot(ctx context.Context) error
	// StartTracking starts heap object tracking.
	StartTracking(ctx context.Context, recordStacks bool) error
	// StopTracking stops tracking and captures a final snapshot.
	StopTracking(ctx context.Context) error
	// AddInspectedObject marks an object as the console's inspected value.
	AddInspectedObject(ctx context.Context, id uint64) error
	Events() <-chan Event
	Close() error
}

// ParseStatsUpdate splits a flat stats update into triples. A trailing
// partial triple is dropped.
func ParseStatsUpdate(flat []int) []StatsFragment {
	out := make([]StatsFragment, 0, len(flat)/3)
	for i := 0; i+2 < len(flat); i += 3 {
		out = append(out, StatsFragment{Index: flat[i], Count: int64(flat[i+1]), Size: int64(flat[i+2])})
	}
	return out
}
