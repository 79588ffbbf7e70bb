package sched

import "sync/atomic"

// Time constants, all in nanoseconds. The core works exclusively in int64
// nanoseconds on a monotonic clock.
const (
	Microsecond int64 = 1000
	Millisecond int64 = 1000 * Microsecond
	Second      int64 = 1000 * Millisecond
)

// Clock supplies monotonic time to the scheduler core. Implementations must
// never go backwards; the core still guards against a lagging reading
// defensively rather than trusting this.
type Clock interface {
	Now() int64
}

// ManualClock is a monotonic clock advanced explicitly by its owner.
// The simulation harness advances it between events; tests set it directly.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a ManualClock starting at the given time.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

// Now returns the current reading.
func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// AdvanceTo moves the clock forward to t. Attempts to move backwards are
// ignored, keeping the clock monotonic.
func (c *ManualClock) AdvanceTo(t int64) {
	for {
		cur := c.now.Load()
		if t <= cur {
			return
		}
		if c.now.CompareAndSwap(cur, t) {
			return
		}
	}
}

// Advance moves the clock forward by d nanoseconds.
func (c *ManualClock) Advance(d int64) {
	if d > 0 {
		c.now.Add(d)
	}
}
