package overview

import (
	"math"
	"time"
)

// maxChangePerSec bounds how fast a SmoothScale moves: at most this
// factor, up or down, per second of wall time.
const maxChangePerSec = 20.0

// SmoothScale is a rate-limited scalar that glides towards its target.
// The first non-zero target is adopted as is.
type SmoothScale struct {
	now        func() time.Time
	lastUpdate time.Time
	current    float64
}

// NewSmoothScale returns a SmoothScale driven by the wall clock.
func NewSmoothScale() *SmoothScale {
	return &SmoothScale{now: time.Now}
}

// Current returns the last value produced by Next.
func (s *SmoothScale) Current() float64 { return s.current }

// Next moves the scale towards target and returns the new value.
// A zero or non-finite target keeps the current value.
func (s *SmoothScale) Next(target float64) float64 {
	if target == 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		target = s.current
	}
	now := s.now()
	if s.current == 0 {
		s.current = target
		s.lastUpdate = now
		return s.current
	}
	dt := now.Sub(s.lastUpdate).Seconds()
	s.lastUpdate = now
	if dt < 0 {
		dt = 0
	}
	allowed := math.Pow(maxChangePerSec, dt)
	change := target / s.current
	s.current *= math.Min(math.Max(change, 1/allowed), allowed)
	return s.current
}
