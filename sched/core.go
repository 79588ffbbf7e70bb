package sched

import (
	"sync"
	"sync/atomic"
)

// Core is the per-core scheduling context. There are no process-wide
// runqueues: every runqueue, bandwidth counter and utilization average hangs
// off the Core that owns it, and is only touched with c.mu held. One
// scheduling decision runs at a time per core.
type Core struct {
	id  int
	sys *System

	mu          sync.Mutex
	online      bool
	curr        *Entity
	needResched bool

	// capacity and freqScale are in CapacityUnit fixed point; both scale
	// runtime consumption of non-reclaiming deadline entities.
	capacity  int64
	freqScale int64

	bw  CoreBandwidth
	dl  DeadlineRunqueue
	rt  RTRunqueue
	avg UtilizationAverage

	// pubUtil mirrors avg.RunningAvg for lock-free reads: idle-core
	// selection breaks ties toward the least utilized core.
	pubUtil atomic.Int64

	// pushReq is the fire-and-forget "push something away" mailbox.
	// Senders bump it; the owner services it at its next scheduling
	// decision and records the serviced generation in pushAck, so a chain
	// of forwarded requests terminates.
	pushReq atomic.Uint64
	pushAck uint64
}

// ID returns the core index within its domain.
func (c *Core) ID() int { return c.id }

// Current returns the entity the core is running, or nil when idle.
func (c *Core) Current() *Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curr
}

// NeedResched reports whether the core should run a scheduling decision.
func (c *Core) NeedResched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needResched
}

// Online reports domain membership.
func (c *Core) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Utilization returns the core's decayed running average in [0, 1024].
func (c *Core) Utilization() int64 { return c.pubUtil.Load() }

// RunningBW returns the core's active deadline reservation sum.
func (c *Core) RunningBW() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bw.RunningBW()
}

// requestPush asks the core, lock-free, to push an entity away at its next
// opportunity.
func (c *Core) requestPush() {
	c.pushReq.Add(1)
}

// lockOrdered takes both core locks in a fixed global order (lower index
// first), never own-before-other, so concurrent cross-core operations cannot
// deadlock. Callers must hold neither lock.
func lockOrdered(a, b *Core) {
	if a.id < b.id {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockBoth(a, b *Core) {
	a.mu.Unlock()
	if a != b {
		b.mu.Unlock()
	}
}
