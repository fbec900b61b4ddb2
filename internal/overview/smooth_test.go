package overview

import (
	"math"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScale(c *fakeClock) *SmoothScale {
	return &SmoothScale{now: c.now}
}

func TestSmoothScale_FirstCallAdopts(t *testing.T) {
	c := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScale(c)
	if got := s.Next(42); got != 42 {
		t.Fatalf("first: got %v, want 42", got)
	}
}

func TestSmoothScale_ZeroTargetKeepsCurrent(t *testing.T) {
	c := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScale(c)
	s.Next(5)
	c.advance(time.Second)
	if got := s.Next(0); got != 5 {
		t.Fatalf("zero target: got %v, want 5", got)
	}
	if got := s.Next(math.NaN()); got != 5 {
		t.Fatalf("NaN target: got %v, want 5", got)
	}
}

func TestSmoothScale_ClampPerStep(t *testing.T) {
	c := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScale(c)
	s.Next(1)
	allowed := math.Pow(maxChangePerSec, 0.1)
	prev := 1.0
	for i := 0; i < 5; i++ {
		c.advance(100 * time.Millisecond)
		got := s.Next(1000)
		ratio := got / prev
		if ratio > allowed*(1+1e-9) || ratio < 1/allowed*(1-1e-9) {
			t.Fatalf("step %d: ratio %v outside [%v, %v]", i, ratio, 1/allowed, allowed)
		}
		prev = got
	}
}

func TestSmoothScale_ConvergesUp(t *testing.T) {
	c := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScale(c)
	s.Next(1)
	// 20^0.1 per step: 100x needs ceil(ln 100 / ln 1.349) = 16 steps.
	var got float64
	for i := 0; i < 16; i++ {
		c.advance(100 * time.Millisecond)
		got = s.Next(100)
	}
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("after 16 steps: got %v, want 100", got)
	}
}

func TestSmoothScale_ConvergesDown(t *testing.T) {
	c := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScale(c)
	s.Next(400)
	c.advance(2 * time.Second)
	// 20^2 = 400: one step reaches the target.
	if got := s.Next(1); math.Abs(got-1) > 1e-9 {
		t.Fatalf("down: got %v, want 1", got)
	}
}
