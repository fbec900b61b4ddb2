package heapview

import (
	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/heapview/internal/session"
)

// SessionInfo describes a session at one point in time.
type SessionInfo struct {
	UID         int    `json:"uid"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	State       string `json:"state"`
	Status      string `json:"status"`
	Waiting     bool   `json:"waiting,omitempty"`
	FromFile    bool   `json:"from_file,omitempty"`
	CanSave     bool   `json:"can_save"`
	Chunks      int    `json:"chunks,omitempty"`
	NodeCount   int    `json:"node_count,omitempty"`
	TotalSize   int64  `json:"total_size,omitempty"`
	Size        string `json:"size,omitempty"`
	MaxObjectID uint64 `json:"max_object_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func infoOf(s *session.Session) SessionInfo {
	status, waiting := s.Status()
	info := SessionInfo{
		UID:      s.UID(),
		Kind:     s.Kind().String(),
		Title:    s.Title(),
		State:    s.State().String(),
		Status:   status,
		Waiting:  waiting,
		FromFile: s.FromFile(),
		CanSave:  s.CanSave(),
		Chunks:   s.Chunks(),
	}
	if snap := s.Snapshot(); snap != nil {
		info.NodeCount = snap.NodeCount()
		info.TotalSize = snap.TotalSize()
		info.Size = humanize.Bytes(uint64(max(0, snap.TotalSize())))
		info.MaxObjectID = snap.MaxObjectID()
	}
	if err := s.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}
