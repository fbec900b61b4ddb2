// CLAUDE:SUMMARY Heap tracking overview: renders the live-size histogram of a timeline recording and maps the selected window to an object id range.
// Package overview renders the allocation timeline of a heap tracking
// recording. Redraws and window recomputations are coalesced: any number
// of requests inside one update interval produce a single pass.
package overview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/heapview/internal/samples"
)

// DefaultUpdateInterval bounds redraw frequency.
const DefaultUpdateInterval = 10 * time.Millisecond

// Config configures an Aggregator.
type Config struct {
	// Series may be nil and set later with SetSeries.
	Series         *samples.Series
	UpdateInterval time.Duration
	// OnFrame receives every rendered frame.
	OnFrame func(Frame)
	// OnRangeChanged receives the id range of the selected window.
	OnRangeChanged func(samples.IDRange)
	Logger         *slog.Logger
}

// Aggregator owns the overview state of one timeline session.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	series        *samples.Series
	unsubscribe   func()
	width, height int
	left, right   float64
	shown         bool
	closed        bool
	updateTimer   *time.Timer
	gridTimer     *time.Timer
	xScale        *SmoothScale
	yScale        *SmoothScale
	last          Frame
}

// New returns an Aggregator covering the whole horizon.
func New(cfg Config) *Aggregator {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		cfg:    cfg,
		logger: logger,
		right:  1,
		xScale: NewSmoothScale(),
		yScale: NewSmoothScale(),
	}
	if cfg.Series != nil {
		a.SetSeries(cfg.Series)
	}
	return a
}

// SetSeries replaces the observed series and schedules a redraw.
func (a *Aggregator) SetSeries(s *samples.Series) {
	a.mu.Lock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.series = s
	if s != nil {
		a.unsubscribe = s.Subscribe(a.onSample)
	}
	a.mu.Unlock()
	a.ScheduleUpdate()
	a.ScheduleGridUpdate()
}

// StopTracking detaches from the series. The last data stays drawable.
func (a *Aggregator) StopTracking() {
	a.mu.Lock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.mu.Unlock()
}

func (a *Aggregator) onSample() {
	a.ScheduleUpdate()
	a.ScheduleGridUpdate()
}

// Resize sets the drawing area.
func (a *Aggregator) Resize(width, height int) {
	a.mu.Lock()
	a.width, a.height = width, height
	a.mu.Unlock()
	a.ScheduleUpdate()
}

// SetWindow selects the fraction [left, right] of the horizon.
func (a *Aggregator) SetWindow(left, right float64) {
	if left > right {
		left, right = right, left
	}
	a.mu.Lock()
	a.left, a.right = max(0, left), min(1, right)
	a.mu.Unlock()
	a.ScheduleGridUpdate()
}

// Show makes the overview drawable and triggers a redraw.
func (a *Aggregator) Show() {
	a.mu.Lock()
	a.shown = true
	a.mu.Unlock()
	a.ScheduleUpdate()
}

// Hide stops redraws until the next Show.
func (a *Aggregator) Hide() {
	a.mu.Lock()
	a.shown = false
	a.mu.Unlock()
}

// Shown reports whether the overview is visible.
func (a *Aggregator) Shown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shown
}

// ScheduleUpdate requests a redraw within one update interval.
func (a *Aggregator) ScheduleUpdate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.updateTimer != nil {
		return
	}
	a.updateTimer = time.AfterFunc(a.cfg.UpdateInterval, func() {
		a.mu.Lock()
		a.updateTimer = nil
		a.mu.Unlock()
		a.Update()
	})
}

// ScheduleGridUpdate requests a window recomputation within one interval.
func (a *Aggregator) ScheduleGridUpdate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.gridTimer != nil {
		return
	}
	a.gridTimer = time.AfterFunc(a.cfg.UpdateInterval, func() {
		a.mu.Lock()
		a.gridTimer = nil
		a.mu.Unlock()
		a.UpdateGrid()
	})
}

// Update renders immediately when shown.
func (a *Aggregator) Update() {
	a.mu.Lock()
	if a.closed || !a.shown || a.series == nil {
		a.mu.Unlock()
		return
	}
	frame := render(a.series.Snapshot(), a.width, a.height, a.xScale, a.yScale)
	a.last = frame
	onFrame := a.cfg.OnFrame
	a.mu.Unlock()

	if onFrame != nil {
		onFrame(frame)
	}
}

// UpdateGrid recomputes the id range of the window immediately.
func (a *Aggregator) UpdateGrid() {
	a.mu.Lock()
	if a.closed || a.series == nil {
		a.mu.Unlock()
		return
	}
	r := a.series.IDRange(a.left, a.right)
	onRange := a.cfg.OnRangeChanged
	a.mu.Unlock()

	a.logger.Debug("overview: window changed", "min_id", r.MinID, "max_id", r.MaxID, "size", r.Size)
	if onRange != nil {
		onRange(r)
	}
}

// LastFrame returns the most recently rendered frame.
func (a *Aggregator) LastFrame() Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Render draws a one-off frame of the given size without touching the
// smoothed scales of the live view.
func (a *Aggregator) Render(width, height int) Frame {
	a.mu.Lock()
	s := a.series
	a.mu.Unlock()
	if s == nil {
		return Frame{Width: width, Height: height}
	}
	return render(s.Snapshot(), width, height, NewSmoothScale(), NewSmoothScale())
}

// Close stops pending timers and detaches from the series.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.updateTimer != nil {
		a.updateTimer.Stop()
		a.updateTimer = nil
	}
	if a.gridTimer != nil {
		a.gridTimer.Stop()
		a.gridTimer = nil
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}
