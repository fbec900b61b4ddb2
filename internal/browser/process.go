package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNotLocal is returned by ProcessMemory for remote or unstarted browsers.
var ErrNotLocal = errors.New("browser: no local chrome process")

// ProcessMemory returns the resident memory of the launched Chrome process
// and all of its descendants (renderers, GPU, utility processes).
func (m *Manager) ProcessMemory(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	l := m.lnch
	m.mu.RUnlock()
	if l == nil {
		return 0, ErrNotLocal
	}
	pid := l.PID()
	if pid <= 0 {
		return 0, ErrNotLocal
	}
	return TreeRSS(ctx, int32(pid))
}

// TreeRSS sums the RSS of pid and its descendants. Processes that exit
// during the walk are skipped.
func TreeRSS(ctx context.Context, pid int32) (uint64, error) {
	root, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, fmt.Errorf("browser: process %d: %w", pid, err)
	}
	var total uint64
	seen := make(map[int32]bool)
	queue := []*process.Process{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		proc := queue[0]
		queue = queue[1:]
		if proc == nil || seen[proc.Pid] {
			continue
		}
		seen[proc.Pid] = true

		mem, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			if proc == root {
				return 0, fmt.Errorf("browser: memory of %d: %w", pid, err)
			}
			continue
		}
		total += mem.RSS

		// No children is reported as an error.
		children, _ := proc.ChildrenWithContext(ctx)
		queue = append(queue, children...)
	}
	return total, nil
}
