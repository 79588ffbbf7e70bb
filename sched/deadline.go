package sched

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DeadlineRunqueue holds a core's EDF state: every runnable deadline entity
// ordered by absolute deadline (the running one included), plus the pushable
// set of migratable non-running entities the balancer may move away.
type DeadlineRunqueue struct {
	queue       *entityHeap
	pushable    *entityHeap
	nrMigratory int
	overloaded  bool

	// pubEarliest publishes the earliest queued deadline for lock-free
	// core selection; 0 means no deadline work on this core.
	pubEarliest atomic.Int64
}

// DeadlineClass implements the EDF + CBS discipline.
type DeadlineClass struct {
	sys *System
}

func newDeadlineRunqueue() DeadlineRunqueue {
	return DeadlineRunqueue{
		queue:    newEntityHeap(byDeadline),
		pushable: newEntityHeap(byDeadline),
	}
}

// publish refreshes the lock-free earliest-deadline mirror.
func (d *DeadlineClass) publish(c *Core) {
	if top := c.dl.queue.Peek(); top != nil {
		c.dl.pubEarliest.Store(top.deadline)
	} else {
		c.dl.pubEarliest.Store(0)
	}
}

// updateOverload re-derives and publishes the overload flag: two or more
// runnable deadline entities with at least one migratable.
func (d *DeadlineClass) updateOverload(c *Core) {
	ov := c.online && c.dl.queue.Len() >= 2 && c.dl.nrMigratory >= 1
	if ov != c.dl.overloaded {
		c.dl.overloaded = ov
		if ov {
			d.sys.domain.dlOverload.set(c.id)
		} else {
			d.sys.domain.dlOverload.clear(c.id)
		}
	}
}

// setup starts a fresh CBS instance: full budget, deadline one relative
// deadline away.
func (d *DeadlineClass) setup(e *Entity, now int64) {
	p := e.effParams()
	e.deadline = now + p.Deadline
	e.runtime = p.Runtime
}

// replenish advances the deadline period by period until the budget is
// positive again, handling arbitrarily large overruns. A post-replenishment
// deadline still not in the future means the clock lagged behind the
// entity's notion of time: corrected defensively with a rate-limited
// diagnostic, not surfaced as an error.
func (d *DeadlineClass) replenish(e *Entity, now int64) {
	p := e.effParams()
	if e.deadline == 0 {
		d.setup(e, now)
	}
	for e.runtime <= 0 {
		e.deadline += p.Period
		e.runtime += p.Runtime
	}
	if e.deadline <= now {
		if !e.lagWarned {
			logrus.Warnf("%s: clock lagged past replenished deadline, resetting CBS instance", e)
			e.lagWarned = true
		}
		d.sys.metrics.ClockLagResets.Add(1)
		d.setup(e, now)
	}
	e.yielded = false
	e.overrun = false
	d.sys.metrics.Replenishments.Add(1)
}

// overflows is the wake-time CBS test: may the entity keep its current
// (runtime, deadline) pair without exceeding its reserved bandwidth? The
// cross-multiplication works on ~µs granularity so two multiplied ns values
// cannot overflow int64.
func (d *DeadlineClass) overflows(e *Entity, now int64) bool {
	p := e.effParams()
	left := (p.Deadline >> DLScale) * (e.runtime >> DLScale)
	right := ((e.deadline - now) >> DLScale) * (p.Runtime >> DLScale)
	return right < left
}

// laxity is how long the remaining runtime still earns at the reserved rate:
// runtime * period / budget. The full-precision product is used when it
// fits; near-max parameters are coarsened to ~µs first, the way the
// overflow test works.
func laxity(runtime, period, budget int64) int64 {
	if runtime < (int64(1)<<62)/period {
		return runtime * period / budget
	}
	return ((runtime >> DLScale) * period / budget) << DLScale
}

// updateOnWakeup recycles or renews the CBS instance when the entity becomes
// runnable. Keeping an unexpired (runtime, deadline) pair is allowed unless
// the overflow test fails; then implicit-deadline, expired or boosted
// entities get a fresh instance, while constrained-deadline entities get the
// revised-wakeup rule: shrink the runtime to density × laxity instead of
// recycling a not-yet-expired deadline into extra bandwidth.
func (d *DeadlineClass) updateOnWakeup(e *Entity, now int64) {
	if e.deadline == 0 {
		d.setup(e, now)
		return
	}
	p := e.effParams()
	if e.deadline > now && !d.overflows(e, now) {
		return
	}
	if e.deadline > now && !p.Implicit() && !e.boosted {
		laxity := e.deadline - now
		e.runtime = (e.density * laxity) >> BWShift
		return
	}
	d.setup(e, now)
}

// checkConstrained is the activation guard for constrained-deadline
// entities: waking strictly after the deadline but before the next period
// start would let the entity run budget/deadline inside one period, so it is
// throttled on the spot with a replenishment armed for the period boundary.
func (d *DeadlineClass) checkConstrained(c *Core, e *Entity, now int64) {
	if e.deadline == 0 {
		return // no instance yet; the wakeup update sets one up
	}
	p := e.effParams()
	nextPeriod := e.deadline - p.Deadline + p.Period
	if e.deadline >= now || now >= nextPeriod || e.boosted {
		return
	}
	if !d.startReplTimer(c, e, now) {
		return
	}
	if e.runtime > 0 {
		e.runtime = 0
	}
	e.throttled = true
	d.sys.metrics.Throttles.Add(1)
	// Uncharge while parked on the timer; the timer re-charges.
	if e.cbs != CBSInactive && !e.special() {
		c.bw.subRunning(e.bwRatio)
		e.cbs = CBSInactive
	}
}

// taskContending restores the entity's running-bandwidth charge on wakeup.
// Waking inside the zero-lag grace period just cancels the pending timer;
// the charge never went away.
func (d *DeadlineClass) taskContending(c *Core, e *Entity) {
	switch e.cbs {
	case CBSNonContending:
		if e.zeroLagTimer != nil {
			d.sys.timers.Cancel(e.zeroLagTimer)
			e.zeroLagTimer = nil
		}
		e.nonContending = false
		e.cbs = CBSContending
	case CBSInactive:
		if !e.special() {
			c.bw.addRunning(e.bwRatio)
		}
		e.cbs = CBSContending
	}
}

// taskNonContending starts the zero-lag grace period when the entity blocks:
// its bandwidth stays charged until the instant its remaining runtime could
// no longer be consumed within its deadline, so short sleeps do not thrash
// the ledger.
func (d *DeadlineClass) taskNonContending(c *Core, e *Entity, now int64) {
	if e.cbs != CBSContending {
		return
	}
	p := e.effParams()
	zeroLag := e.deadline
	if e.runtime > 0 {
		zeroLag = e.deadline - laxity(e.runtime, p.Period, p.Runtime)
	}
	if t := d.sys.timers.Arm(now, zeroLag, e, d.zeroLagFired); t != nil {
		e.zeroLagTimer = t
		e.nonContending = true
		e.cbs = CBSNonContending
		return
	}
	// Zero-lag already elapsed: drop the charge right away.
	d.dropCharge(c, e)
}

// dropCharge removes the running-bandwidth charge and, when the entity has
// already left the class, completes the deferred ledger release.
func (d *DeadlineClass) dropCharge(c *Core, e *Entity) {
	if e.cbs != CBSInactive && !e.special() {
		c.bw.subRunning(e.bwRatio)
	}
	e.cbs = CBSInactive
	e.nonContending = false
	if e.pendingRelease {
		e.pendingRelease = false
		if !e.special() {
			c.bw.subThis(e.bwRatio)
			d.sys.domain.withLedger(func(l *DomainLedger) {
				l.Release(e.bwRatio)
			})
		}
		e.bwRatio = 0
		e.density = 0
	}
}

// zeroLagFired is the inactive-timer callback. It runs in interrupt-like
// context: everything is re-validated under the owning core's lock, so a
// racing wakeup, migration or policy change turns the firing into a no-op.
func (d *DeadlineClass) zeroLagFired(now int64, e *Entity, gen uint64) {
	c := d.sys.lockOwner(e)
	defer c.mu.Unlock()
	if gen != e.timerGen.Load() {
		return
	}
	e.zeroLagTimer = nil
	if !e.nonContending {
		return // woke or was re-admitted meanwhile
	}
	if e.runnable && !e.pendingRelease {
		return
	}
	d.dropCharge(c, e)
}

// startReplTimer arms the replenishment timer at the entity's next period
// boundary. Returns false when that instant is not in the future, in which
// case the caller replenishes synchronously.
func (d *DeadlineClass) startReplTimer(c *Core, e *Entity, now int64) bool {
	p := e.effParams()
	target := e.deadline - p.Deadline + p.Period
	t := d.sys.timers.Arm(now, target, e, d.replTimerFired)
	if t == nil {
		return false
	}
	e.replTimer = t
	return true
}

// replTimerFired replenishes a throttled entity at its period boundary and
// re-queues it if still runnable. All pre-fire assumptions are re-checked
// under the lock: the entity may have migrated, left the class, been boosted
// or already been replenished.
func (d *DeadlineClass) replTimerFired(now int64, e *Entity, gen uint64) {
	c := d.sys.lockOwner(e)
	defer c.mu.Unlock()
	if gen != e.timerGen.Load() {
		return
	}
	e.replTimer = nil
	if e.policy != PolicyDeadline || !e.throttled || e.boosted {
		return
	}
	d.replenish(e, now)
	e.throttled = false
	if !e.runnable {
		return // the eventual wakeup enqueues
	}
	d.taskContending(c, e)
	d.Enqueue(c, e, EnqueueReplenish)
}

// charge accounts delta runtime consumed by the running entity, applying
// GRUB reclaiming for reclaim entities and frequency/capacity scaling
// otherwise, and throttles on exhaustion.
func (d *DeadlineClass) charge(c *Core, e *Entity, now int64) {
	delta := now - e.execStart
	if delta <= 0 {
		return
	}
	e.execStart = now
	e.avg.Update(now, true, true, true)

	scaled := delta
	if e.params.Flags&DeadlineReclaim != 0 && !e.boosted {
		scaled = (delta * c.bw.grubFactor(e.bwRatio)) >> BWShift
	} else {
		scaled = (delta * c.freqScale) >> CapacityShift
		scaled = (scaled * c.capacity) >> CapacityShift
	}
	e.runtime -= scaled

	if e.runtime < 0 && e.params.Flags&DeadlineOverrunNotify != 0 && !e.overrun {
		e.overrun = true
		d.sys.metrics.Overruns.Add(1)
		if d.sys.overrunNotify != nil {
			d.sys.overrunNotify(e)
		}
	}
	if e.yielded && e.runtime > 0 {
		e.runtime = 0
	}
	if e.runtime <= 0 {
		d.throttleCurr(c, e, now)
	}
}

// throttleCurr takes the exhausted entity off the runqueue. Boosted entities
// and entities whose replenishment instant already passed are replenished
// and re-queued immediately; everyone else waits for the timer.
func (d *DeadlineClass) throttleCurr(c *Core, e *Entity, now int64) {
	e.throttled = true
	d.dequeueEntity(c, e)
	if e == c.curr {
		c.needResched = true
	}
	d.sys.metrics.Throttles.Add(1)
	if e.boosted || !d.startReplTimer(c, e, now) {
		d.replenish(e, now)
		e.throttled = false
		d.Enqueue(c, e, EnqueueReplenish)
	}
}

// enqueueEntity/dequeueEntity maintain the EDF heap, the pushable set, the
// migratability count and the published overload/earliest state.
func (d *DeadlineClass) enqueueEntity(c *Core, e *Entity) {
	c.dl.queue.Insert(e)
	e.onRq = true
	if e.Migratable() {
		c.dl.nrMigratory++
		if e != c.curr {
			c.dl.pushable.Insert(e)
		}
	}
	d.publish(c)
	d.updateOverload(c)
}

func (d *DeadlineClass) dequeueEntity(c *Core, e *Entity) {
	if !c.dl.queue.Remove(e) {
		return
	}
	e.onRq = false
	if e.Migratable() {
		c.dl.nrMigratory--
		c.dl.pushable.Remove(e)
	}
	d.publish(c)
	d.updateOverload(c)
}

// Enqueue implements Class. The wake-up path runs the full CBS update chain:
// restore the bandwidth charge, the constrained activation guard, then the
// overflow/revised-wakeup update. A throttled entity is only queued by the
// replenishment path.
func (d *DeadlineClass) Enqueue(c *Core, e *Entity, flags EnqueueFlags) {
	now := d.sys.clock.Now()
	if flags&EnqueueWakeup != 0 {
		d.taskContending(c, e)
		if !e.effParams().Implicit() && !e.throttled {
			d.checkConstrained(c, e, now)
		}
		if !e.throttled {
			d.updateOnWakeup(e, now)
		}
	}
	if e.throttled && flags&EnqueueReplenish == 0 {
		return
	}
	d.enqueueEntity(c, e)
	if c.dl.queue.Peek() == e {
		if c.curr == nil || c.curr.policy != PolicyDeadline || byDeadline(e, c.curr) {
			c.needResched = true
		}
	}
}

// Dequeue implements Class.
func (d *DeadlineClass) Dequeue(c *Core, e *Entity, flags DequeueFlags) {
	d.dequeueEntity(c, e)
	if flags&DequeueSleep != 0 {
		d.taskNonContending(c, e, d.sys.clock.Now())
	}
}

// PickNext implements Class: the earliest-deadline runnable entity, which
// stays queued while running but leaves the pushable set.
func (d *DeadlineClass) PickNext(c *Core) *Entity {
	top := c.dl.queue.Peek()
	if top == nil {
		return nil
	}
	c.dl.pushable.Remove(top)
	top.running = true
	top.execStart = d.sys.clock.Now()
	return top
}

// PutPrev implements Class: final charge for the outgoing slice, then back
// into the pushable set if still queued and migratable.
func (d *DeadlineClass) PutPrev(c *Core, e *Entity) {
	d.charge(c, e, d.sys.clock.Now())
	e.running = false
	if e.onRq && e.Migratable() {
		c.dl.pushable.Insert(e)
	}
}

// TaskTick implements Class.
func (d *DeadlineClass) TaskTick(c *Core, e *Entity) {
	d.charge(c, e, d.sys.clock.Now())
}

// Migrate implements Class: queue membership and both bandwidth mirrors move
// between the cores. Both locks are held by the caller.
func (d *DeadlineClass) Migrate(e *Entity, from, to *Core) {
	wasQueued := e.onRq
	if wasQueued {
		d.dequeueEntity(from, e)
	}
	if !e.special() {
		if e.cbs != CBSInactive {
			from.bw.subRunning(e.bwRatio)
		}
		from.bw.subThis(e.bwRatio)
		to.bw.addThis(e.bwRatio)
		if e.cbs != CBSInactive {
			to.bw.addRunning(e.bwRatio)
		}
	}
	e.coreID.Store(int32(to.id))
	if wasQueued {
		d.Enqueue(to, e, EnqueueRestore)
	}
}

// SetAffinity implements Class. The domain is shared, so bandwidth stays
// put; only migratability bookkeeping changes.
func (d *DeadlineClass) SetAffinity(c *Core, e *Entity, mask CoreMask) {
	wasQueued := e.onRq
	if wasQueued {
		d.dequeueEntity(c, e)
	}
	e.allowed = mask
	e.nrAllowed = mask.Count()
	if wasQueued {
		d.enqueueEntity(c, e)
	}
}

// RqOnline implements Class.
func (d *DeadlineClass) RqOnline(c *Core) {
	d.updateOverload(c)
}

// RqOffline implements Class.
func (d *DeadlineClass) RqOffline(c *Core) {
	d.updateOverload(c)
}

// PrioChanged implements Class: the entity's effective deadline changed in
// place (boost or deboost), so re-sort and re-check preemption.
func (d *DeadlineClass) PrioChanged(c *Core, e *Entity) {
	if !e.onRq {
		return
	}
	c.dl.queue.Fix(e)
	c.dl.pushable.Fix(e)
	d.publish(c)
	if c.dl.queue.Peek() == e && c.curr != e {
		c.needResched = true
	}
}

// SwitchedTo implements Class: a fresh CBS instance is set up lazily on the
// first wakeup.
func (d *DeadlineClass) SwitchedTo(c *Core, e *Entity) {
	e.deadline = 0
	e.runtime = 0
	e.cbs = CBSInactive
	e.lagWarned = false
	if e.runnable {
		c.needResched = true
	}
}

// SwitchedFrom implements Class: cancel the replenishment timer, keep the
// bandwidth charged until the zero-lag instant, then release it to the
// ledger (the zero-lag timer completes the release if it is still pending).
func (d *DeadlineClass) SwitchedFrom(c *Core, e *Entity) {
	if e.replTimer != nil {
		d.sys.timers.Cancel(e.replTimer)
		e.replTimer = nil
	}
	e.throttled = false
	e.yielded = false
	if e.special() {
		e.cbs = CBSInactive
		e.nonContending = false
		e.bwRatio = 0
		e.density = 0
		return
	}
	e.pendingRelease = true
	switch e.cbs {
	case CBSContending:
		d.taskNonContending(c, e, d.sys.clock.Now())
	case CBSNonContending:
		// zero-lag timer already armed; it finishes the release.
	case CBSInactive:
		d.dropCharge(c, e)
	}
}
