// CLAUDE:SUMMARY Throttled, last-query-wins object search over the current perspective with @id lookup and wrapping result navigation.
// Package search coordinates searches over the object graph of the
// perspective currently shown.
package search

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/heapview/internal/snapshot"
)

// Query is one search request. It is immutable once issued.
type Query struct {
	Text          string
	CaseSensitive bool
	Regex         bool
	// Jump moves the cursor to the first (or last, with Backward) result.
	Jump     bool
	Backward bool
}

func (q Query) snapshotQuery() snapshot.Query {
	return snapshot.Query{Text: q.Text, CaseSensitive: q.CaseSensitive, Regex: q.Regex}
}

// Target is the searchable view.
type Target interface {
	SupportsSearch() bool
	Search(ctx context.Context, q snapshot.Query) ([]uint64, error)
	// HasObject waits for the view to load before looking id up.
	HasObject(ctx context.Context, id uint64) (bool, error)
	// Reveal shows the object and reports whether it was found.
	Reveal(id uint64) bool
}

// Config configures a Coordinator.
type Config struct {
	Target Target
	// Delay is the throttle interval. Zero runs on the next tick.
	Delay time.Duration
	// OnMatches receives the result count of every completed search.
	OnMatches func(count int)
	// OnCurrent receives the cursor after every jump.
	OnCurrent func(index int)
	Logger    *slog.Logger
}

// Coordinator owns the current query, its results and the cursor.
type Coordinator struct {
	cfg      Config
	logger   *slog.Logger
	throttle *Throttler
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	query    *Query
	results  []uint64
	cursor   int
	gen      uint64
	inflight context.CancelFunc
}

// New returns a Coordinator over cfg.Target.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		throttle: NewThrottler(cfg.Delay),
		ctx:      ctx,
		cancel:   cancel,
		cursor:   -1,
	}
}

// Search schedules q. The text is trimmed. A query issued later always
// wins over one still running.
func (c *Coordinator) Search(q Query) {
	q.Text = strings.TrimSpace(q.Text)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	c.mu.Unlock()
	c.throttle.Schedule(func() { c.perform(gen, q) })
}

func (c *Coordinator) perform(gen uint64, q Query) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.results = nil
	c.cursor = -1
	ctx, cancel := context.WithCancel(c.ctx)
	c.inflight = cancel
	c.mu.Unlock()
	defer cancel()

	target := c.cfg.Target
	var ids []uint64
	if target != nil && target.SupportsSearch() {
		c.setQuery(gen, q)
		switch {
		case q.Text == "":
		case strings.HasPrefix(q.Text, "@"):
			id, err := strconv.ParseUint(q.Text[1:], 10, 64)
			if err != nil {
				break
			}
			ok, err := target.HasObject(ctx, id)
			if err != nil {
				return
			}
			if ok {
				ids = []uint64{id}
			}
		default:
			found, err := target.Search(ctx, q.snapshotQuery())
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("search: failed", "query", q.Text, "error", err)
				}
				return
			}
			ids = found
		}
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.results = ids
	c.cursor = -1
	jump := q.Jump && len(ids) > 0
	if jump {
		c.cursor = 0
		if q.Backward {
			c.cursor = len(ids) - 1
		}
	}
	cursor := c.cursor
	c.mu.Unlock()

	if c.cfg.OnMatches != nil {
		c.cfg.OnMatches(len(ids))
	}
	if jump {
		c.jumpTo(gen, cursor)
	}
}

func (c *Coordinator) setQuery(gen uint64, q Query) {
	c.mu.Lock()
	if gen == c.gen {
		c.query = &q
	}
	c.mu.Unlock()
}

func (c *Coordinator) jumpTo(gen uint64, index int) {
	c.mu.Lock()
	if gen != c.gen || index < 0 || index >= len(c.results) {
		c.mu.Unlock()
		return
	}
	id := c.results[index]
	c.mu.Unlock()

	if c.cfg.OnCurrent != nil {
		c.cfg.OnCurrent(index)
	}
	if c.cfg.Target != nil && !c.cfg.Target.Reveal(id) {
		c.logger.Debug("search: result not revealed", "id", id)
	}
}

// JumpToNext advances the cursor, wrapping to the first result.
func (c *Coordinator) JumpToNext() { c.step(1) }

// JumpToPrevious moves the cursor back, wrapping to the last result.
func (c *Coordinator) JumpToPrevious() { c.step(-1) }

func (c *Coordinator) step(delta int) {
	c.mu.Lock()
	n := len(c.results)
	if n == 0 {
		c.mu.Unlock()
		return
	}
	c.cursor = ((c.cursor+delta)%n + n) % n
	gen, cursor := c.gen, c.cursor
	c.mu.Unlock()
	c.throttle.Schedule(func() { c.jumpTo(gen, cursor) })
}

// Cancel drops the results and the cursor. The query is kept for
// InvalidateAndResearch.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	c.gen++
	c.results = nil
	c.cursor = -1
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	c.mu.Unlock()
}

// InvalidateAndResearch re-issues the last query without jumping.
func (c *Coordinator) InvalidateAndResearch() {
	c.mu.Lock()
	q := c.query
	c.mu.Unlock()
	if q == nil {
		return
	}
	next := *q
	next.Jump, next.Backward = false, false
	c.Search(next)
}

// Query returns the last query, if any.
func (c *Coordinator) Query() (Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.query == nil {
		return Query{}, false
	}
	return *c.query, true
}

// Results returns a copy of the results and the cursor (-1 if none).
func (c *Coordinator) Results() ([]uint64, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.results...), c.cursor
}

// Close stops the throttle and cancels running searches.
func (c *Coordinator) Close() {
	c.throttle.Stop()
	c.cancel()
}
