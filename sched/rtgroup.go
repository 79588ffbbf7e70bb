package sched

import "sync"

// groupCoreState is one group's bandwidth state on one core: consumption and
// local quota for the current period, the throttled flag, and the entities
// parked while throttled. time is written on every charge under the group
// lock; quota moves between cores through borrowing.
type groupCoreState struct {
	time      int64
	runtime   int64
	throttled bool
	parked    []*Entity
}

// RTGroup is a bandwidth pool shared by fixed-priority entities: reserved
// runtime per period and core, consumed-time accumulators, and the count of
// boosted members that keeps a throttled group runnable.
//
// Lock order: a core lock, then g.mu, then (for the ledger) the domain lock.
type RTGroup struct {
	Name string

	sys *System

	mu           sync.Mutex
	runtime      int64 // reserved runtime per period per core; -1 = unlimited
	period       int64
	boostedCount int
	percore      []*groupCoreState
	periodStart  int64
}

// NewGroup creates a bandwidth group and arms its period timer. runtime < 0
// means unlimited (never throttled).
func (s *System) NewGroup(name string, runtime, period int64) *RTGroup {
	now := s.clock.Now()
	g := &RTGroup{
		Name:        name,
		sys:         s,
		runtime:     runtime,
		period:      period,
		periodStart: now,
	}
	for range s.cores {
		g.percore = append(g.percore, &groupCoreState{runtime: runtime})
	}
	if runtime >= 0 && period > 0 {
		s.timers.Arm(now, now+period, nil, func(now int64, _ *Entity, _ uint64) {
			s.rt.groupPeriodFired(g, now)
		})
	}
	return g
}

// Runtime returns the configured reserved runtime per period and core.
func (g *RTGroup) Runtime() int64 { return g.runtime }

// Period returns the configured throttle period.
func (g *RTGroup) Period() int64 { return g.period }

// ThrottledOn reports whether the group is currently throttled on the core.
// A group with boosted members is never treated as throttled.
func (g *RTGroup) throttledOn(cpu int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.percore[cpu].throttled && g.boostedCount == 0
}

// accountTime charges delta consumed runtime on cpu. Returns true when this
// charge throttled the group there: the pool is exhausted and borrowing from
// peer cores could not cover the deficit.
func (g *RTGroup) accountTime(cpu int, delta int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runtime < 0 {
		return false
	}
	gcs := g.percore[cpu]
	gcs.time += delta
	if gcs.throttled || g.boostedCount > 0 {
		return false
	}
	if gcs.time > gcs.runtime {
		g.borrowLocked(cpu)
		if gcs.time > gcs.runtime {
			gcs.throttled = true
			g.sys.metrics.GroupThrottles.Add(1)
			return true
		}
	}
	return false
}

// borrowLocked redistributes spare quota from peer cores to cpu: each peer
// lends a fair share of its slack, and the local quota never exceeds the
// group period. Called with g.mu held.
func (g *RTGroup) borrowLocked(cpu int) {
	gcs := g.percore[cpu]
	weight := int64(len(g.percore) - 1)
	if weight <= 0 {
		return
	}
	for i, peer := range g.percore {
		if i == cpu || peer.throttled {
			continue
		}
		diff := (peer.runtime - peer.time) / weight
		if diff <= 0 {
			continue
		}
		if gcs.runtime+diff > g.period {
			diff = g.period - gcs.runtime
		}
		if diff <= 0 {
			break
		}
		peer.runtime -= diff
		gcs.runtime += diff
		if gcs.time <= gcs.runtime {
			break
		}
	}
}

func (g *RTGroup) park(cpu int, e *Entity) {
	g.mu.Lock()
	g.percore[cpu].parked = append(g.percore[cpu].parked, e)
	g.mu.Unlock()
}

// unpark removes one entity from the parked list (a blocked or migrating
// entity leaves the throttle queue too). Returns false if it was not parked.
func (g *RTGroup) unpark(cpu int, e *Entity) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	parked := g.percore[cpu].parked
	for i, cand := range parked {
		if cand == e {
			g.percore[cpu].parked = append(parked[:i:i], parked[i+1:]...)
			return true
		}
	}
	return false
}

// parkGroup moves the group's queued entities on c out of the active array
// until the period timer refreshes the pool. The running entity parks later,
// in PutPrev, once it is switched out. Called with c.mu held.
func (f *FPClass) parkGroup(c *Core, g *RTGroup) {
	var victims []*Entity
	for p := 0; p < NumPriorities; p++ {
		for _, e := range c.rt.active.queue[p] {
			if e.group == g && e != c.curr {
				victims = append(victims, e)
			}
		}
	}
	for _, e := range victims {
		f.dequeueEntity(c, e)
		g.park(c.id, e)
		e.onRq = true
	}
}

// unparkGroupOn re-queues everything the throttle parked on c. Called with
// c.mu held.
func (f *FPClass) unparkGroupOn(c *Core, g *RTGroup) {
	g.mu.Lock()
	list := g.percore[c.id].parked
	g.percore[c.id].parked = nil
	g.mu.Unlock()
	for _, e := range list {
		e.onRq = false
		f.enqueueEntity(c, e, false)
	}
	if len(list) > 0 {
		c.needResched = true
	}
}

// groupPeriodFired is the group throttle timer: every period it pays back
// one reserved runtime per elapsed period (tolerating timer lag), and
// un-throttles cores whose consumption dropped below their quota. Re-arms
// itself for the next period boundary.
func (f *FPClass) groupPeriodFired(g *RTGroup, now int64) {
	g.mu.Lock()
	periods := (now - g.periodStart) / g.period
	if periods < 1 {
		periods = 1
	}
	g.periodStart += periods * g.period
	next := g.periodStart + g.period
	g.mu.Unlock()

	for i, c := range f.sys.cores {
		c.mu.Lock()
		g.mu.Lock()
		gcs := g.percore[i]
		gcs.time -= g.runtime * periods
		if gcs.time < 0 {
			gcs.time = 0
		}
		unthrottle := gcs.throttled && gcs.time < gcs.runtime
		if unthrottle {
			gcs.throttled = false
			f.sys.metrics.GroupUnthrottles.Add(1)
		}
		g.mu.Unlock()
		if unthrottle {
			f.unparkGroupOn(c, g)
		}
		c.mu.Unlock()
	}

	f.sys.timers.Arm(now, next, nil, func(now int64, _ *Entity, _ uint64) {
		f.groupPeriodFired(g, now)
	})
}
