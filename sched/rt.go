package sched

import "sync/atomic"

// DefaultTimeslice is the round-robin slice entities at the same priority
// level share.
const DefaultTimeslice = 100 * Millisecond

// RTRunqueue holds a core's fixed-priority state: the priority bitmap array
// (the running entity stays in it) and the pushable set ordered by priority.
type RTRunqueue struct {
	active      priorityArray
	pushable    *entityHeap
	nrMigratory int
	overloaded  bool

	// pubHighest publishes the best occupied level for lock-free
	// placement scans; NumPriorities means no fixed-priority work.
	pubHighest atomic.Int32
}

// FPClass implements the fixed-priority discipline with group bandwidth
// throttling and the runtime watchdog.
type FPClass struct {
	sys       *System
	timeslice int64
}

func initRTRunqueue(rq *RTRunqueue) {
	rq.pushable = newEntityHeap(byPriority)
	rq.pubHighest.Store(NumPriorities)
}

func (f *FPClass) publish(c *Core) {
	h := c.rt.active.highest()
	if h < 0 {
		h = NumPriorities
	}
	c.rt.pubHighest.Store(int32(h))
}

func (f *FPClass) updateOverload(c *Core) {
	ov := c.online && c.rt.active.len() >= 2 && c.rt.nrMigratory >= 1
	if ov != c.rt.overloaded {
		c.rt.overloaded = ov
		if ov {
			f.sys.domain.rtOverload.set(c.id)
		} else {
			f.sys.domain.rtOverload.clear(c.id)
		}
	}
}

func (f *FPClass) enqueueEntity(c *Core, e *Entity, head bool) {
	c.rt.active.enqueue(e, head)
	e.onRq = true
	if e.Migratable() {
		c.rt.nrMigratory++
		if e != c.curr {
			c.rt.pushable.Insert(e)
		}
	}
	f.publish(c)
	f.updateOverload(c)
}

// dequeueEntity removes e from the active array or, if its group is
// throttled here, from the parked list.
func (f *FPClass) dequeueEntity(c *Core, e *Entity) {
	if !c.rt.active.dequeue(e) {
		// Parked entities left the migratory bookkeeping when they
		// were parked; only the list membership remains.
		if g := e.group; g != nil && g.unpark(c.id, e) {
			e.onRq = false
		}
		return
	}
	e.onRq = false
	if e.Migratable() {
		c.rt.nrMigratory--
		c.rt.pushable.Remove(e)
	}
	f.publish(c)
	f.updateOverload(c)
}

// Enqueue implements Class. An entity of a group throttled on this core is
// parked until the group's period timer refreshes the pool.
func (f *FPClass) Enqueue(c *Core, e *Entity, flags EnqueueFlags) {
	if flags&EnqueueWakeup != 0 {
		e.watchdogTime = 0
		e.softNotified = false
		e.hardNotified = false
	}
	if g := e.group; g != nil && g.throttledOn(c.id) {
		g.park(c.id, e)
		e.onRq = true
		return
	}
	f.enqueueEntity(c, e, flags&EnqueueHead != 0)
	if c.curr == nil || (c.curr.policy == PolicyFixedPriority && e.prio < c.curr.prio) {
		c.needResched = true
	}
}

// Dequeue implements Class.
func (f *FPClass) Dequeue(c *Core, e *Entity, flags DequeueFlags) {
	f.dequeueEntity(c, e)
	_ = flags
}

// PickNext implements Class: front of the highest occupied level.
func (f *FPClass) PickNext(c *Core) *Entity {
	top := c.rt.active.peek()
	if top == nil {
		return nil
	}
	c.rt.pushable.Remove(top)
	top.running = true
	top.execStart = f.sys.clock.Now()
	if top.timeslice <= 0 {
		top.timeslice = f.timeslice
	}
	return top
}

// PutPrev implements Class.
func (f *FPClass) PutPrev(c *Core, e *Entity) {
	f.charge(c, e, f.sys.clock.Now())
	e.running = false
	if g := e.group; g != nil && e.onRq && g.throttledOn(c.id) {
		f.dequeueEntity(c, e)
		g.park(c.id, e)
		e.onRq = true
		return
	}
	if e.onRq && e.Migratable() {
		c.rt.pushable.Insert(e)
	}
}

// charge accounts runtime against the entity's group pool and the watchdog.
func (f *FPClass) charge(c *Core, e *Entity, now int64) {
	delta := now - e.execStart
	if delta <= 0 {
		return
	}
	e.execStart = now
	e.avg.Update(now, true, true, true)

	if g := e.group; g != nil {
		if g.accountTime(c.id, delta) {
			// Group just exhausted its pool on this core.
			f.parkGroup(c, g)
			c.needResched = true
		}
	}
	f.watchdog(e, delta)
	e.timeslice -= delta
}

// watchdog counts consumed runtime against the per-entity soft/hard limits,
// independent of group throttling.
func (f *FPClass) watchdog(e *Entity, delta int64) {
	if e.softLimit == 0 && e.hardLimit == 0 {
		return
	}
	e.watchdogTime += delta
	if e.softLimit > 0 && !e.softNotified && e.watchdogTime > e.softLimit {
		e.softNotified = true
		f.sys.metrics.WatchdogFirings.Add(1)
		if f.sys.watchdogNotify != nil {
			f.sys.watchdogNotify(e, false)
		}
	}
	if e.hardLimit > 0 && !e.hardNotified && e.watchdogTime > e.hardLimit {
		e.hardNotified = true
		f.sys.metrics.WatchdogFirings.Add(1)
		if f.sys.watchdogNotify != nil {
			f.sys.watchdogNotify(e, true)
		}
	}
}

// setPrio moves the entity to a new effective level, requeueing it if it is
// queued. A boosted entity enters at the head of its new level so the
// inherited priority takes effect over peers already waiting there.
func (f *FPClass) setPrio(c *Core, e *Entity, prio int, head bool) {
	if e.prio == prio {
		return
	}
	wasQueued := e.onRq
	if wasQueued {
		f.dequeueEntity(c, e)
	}
	e.prio = prio
	if wasQueued {
		flags := EnqueueRestore
		if head {
			flags |= EnqueueHead
		}
		f.Enqueue(c, e, flags)
	}
}

// TaskTick implements Class: charge, then round-robin rotation when the
// slice is used up and a peer waits at the same level.
func (f *FPClass) TaskTick(c *Core, e *Entity) {
	f.charge(c, e, f.sys.clock.Now())
	if e.timeslice > 0 || !e.onRq {
		return
	}
	e.timeslice = f.timeslice
	if len(c.rt.active.queue[e.prio]) > 1 {
		c.rt.active.requeueTail(e)
		c.needResched = true
	}
}

// Migrate implements Class. Group consumption is per core and stays behind;
// only queue membership moves.
func (f *FPClass) Migrate(e *Entity, from, to *Core) {
	wasQueued := e.onRq
	if wasQueued {
		f.dequeueEntity(from, e)
	}
	e.coreID.Store(int32(to.id))
	if wasQueued {
		f.Enqueue(to, e, EnqueueRestore)
		if to.rt.active.peek() == e {
			to.needResched = true
		}
	}
}

// SetAffinity implements Class.
func (f *FPClass) SetAffinity(c *Core, e *Entity, mask CoreMask) {
	wasQueued := e.onRq && c.rt.active.dequeue(e)
	if wasQueued {
		e.onRq = false
		if e.Migratable() {
			c.rt.nrMigratory--
			c.rt.pushable.Remove(e)
		}
	}
	e.allowed = mask
	e.nrAllowed = mask.Count()
	if wasQueued {
		f.enqueueEntity(c, e, false)
	} else {
		f.publish(c)
		f.updateOverload(c)
	}
}

// RqOnline implements Class.
func (f *FPClass) RqOnline(c *Core) {
	f.updateOverload(c)
}

// RqOffline implements Class.
func (f *FPClass) RqOffline(c *Core) {
	f.updateOverload(c)
}

// PrioChanged implements Class: the System already requeued the entity at
// its new level; only preemption remains to check.
func (f *FPClass) PrioChanged(c *Core, e *Entity) {
	if e.onRq && c.rt.active.peek() == e && c.curr != e {
		c.needResched = true
	}
	if c.curr == e && c.rt.active.peek() != e {
		c.needResched = true
	}
}

// SwitchedTo implements Class.
func (f *FPClass) SwitchedTo(c *Core, e *Entity) {
	e.timeslice = f.timeslice
	e.watchdogTime = 0
	e.softNotified = false
	e.hardNotified = false
	if e.runnable {
		c.needResched = true
	}
}

// SwitchedFrom implements Class.
func (f *FPClass) SwitchedFrom(c *Core, e *Entity) {
	e.timeslice = 0
}
