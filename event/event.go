// Package event defines the structured notifications emitted by heapview
// sessions. Consumers (sinks, UIs, pipelines) import this package to follow
// captures without linking the controller.
package event

// Kind is the type of session notification.
type Kind string

const (
	KindSessionAdded     Kind = "session_added"
	KindSessionRemoved   Kind = "session_removed"
	KindStatusChanged    Kind = "status_changed"
	KindSnapshotReceived Kind = "snapshot_received" // parsed and queryable
	KindProfileComplete  Kind = "profile_complete"  // capture finished streaming
	KindTrackingStarted  Kind = "tracking_started"
	KindTrackingStopped  Kind = "tracking_stopped"
	KindHeapStatsUpdate  Kind = "heap_stats_update"
	KindTransferFailed   Kind = "transfer_failed"
	KindProfilesReset    Kind = "profiles_reset"
)

// Event is one notification.
type Event struct {
	ID          string `json:"id"` // UUIDv7
	Kind        Kind   `json:"kind"`
	SessionUID  int    `json:"session_uid,omitempty"`
	SessionKind string `json:"session_kind,omitempty"` // "snapshot" | "timeline"
	Title       string `json:"title,omitempty"`
	Status      string `json:"status,omitempty"`
	Waiting     bool   `json:"waiting,omitempty"`
	Timestamp   int64  `json:"timestamp"` // epoch milliseconds
	Detail      Detail `json:"detail,omitzero"`
}

// Detail carries kind-specific values.
type Detail struct {
	TotalSize   int64   `json:"total_size,omitempty"`
	MaxObjectID uint64  `json:"max_object_id,omitempty"`
	NodeCount   int     `json:"node_count,omitempty"`
	Chunks      int     `json:"chunks,omitempty"`
	Samples     int     `json:"samples,omitempty"`
	TotalTimeMs float64 `json:"total_time_ms,omitempty"`
	Error       string  `json:"error,omitempty"`
}
