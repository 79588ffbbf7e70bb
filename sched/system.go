package sched

import (
	"fmt"
	"sync/atomic"
)

// Default admission and group-throttling settings: the deadline class may
// reserve up to 95% of each core, and the root fixed-priority group gets
// 950ms of every second.
const (
	DefaultDeadlineBandwidth = BWUnit * 95 / 100
	DefaultGroupRuntime      = 950 * Millisecond
	DefaultGroupPeriod       = Second
)

// Config parameterizes a System. Zero values pick the defaults above;
// UnlimitedBandwidth disables the deadline admission test, a negative
// GroupRuntime disables root-group throttling.
type Config struct {
	Cores int
	Clock Clock

	DeadlineBandwidth int64 // per-core cap in BW units
	GroupRuntime      int64 // root group runtime per period and core
	GroupPeriod       int64
	Timeslice         int64 // round-robin slice for the fixed-priority class
	PeriodBounds      PeriodBounds

	FreqHook       FreqHook
	OverrunNotify  func(e *Entity)
	WatchdogNotify func(e *Entity, hard bool)
}

// System is the scheduler core for one domain: the cores, the two class
// implementations, the timer queue and the admission ledger. All entity
// life-cycle operations (Wake, Block, Tick, Schedule, policy changes) enter
// through it; it resolves and takes the owning core's lock so class code
// never has to.
type System struct {
	clock   Clock
	timers  *TimerQueue
	domain  *Domain
	cores   []*Core
	metrics *Metrics

	dl *DeadlineClass
	rt *FPClass

	overrunNotify  func(e *Entity)
	watchdogNotify func(e *Entity, hard bool)

	nextID atomic.Int64
}

// NewSystem builds a domain of cfg.Cores identical full-capacity cores, all
// online.
func NewSystem(cfg Config) *System {
	n := cfg.Cores
	if n < 1 {
		n = 1
	}
	if n > 64 {
		n = 64
	}
	clock := cfg.Clock
	if clock == nil {
		clock = NewManualClock(0)
	}
	bw := cfg.DeadlineBandwidth
	if bw == 0 {
		bw = DefaultDeadlineBandwidth
	}
	if bw < 0 {
		bw = UnlimitedBandwidth
	}
	bounds := cfg.PeriodBounds
	if bounds.Min == 0 && bounds.Max == 0 {
		bounds = DefaultPeriodBounds()
	}
	timeslice := cfg.Timeslice
	if timeslice <= 0 {
		timeslice = DefaultTimeslice
	}
	groupRuntime := cfg.GroupRuntime
	if groupRuntime == 0 {
		groupRuntime = DefaultGroupRuntime
	}
	groupPeriod := cfg.GroupPeriod
	if groupPeriod <= 0 {
		groupPeriod = DefaultGroupPeriod
	}

	s := &System{
		clock:          clock,
		timers:         NewTimerQueue(),
		metrics:        &Metrics{},
		overrunNotify:  cfg.OverrunNotify,
		watchdogNotify: cfg.WatchdogNotify,
	}
	s.dl = &DeadlineClass{sys: s}
	s.rt = &FPClass{sys: s, timeslice: timeslice}

	extraBW := int64(0)
	if bw >= 0 {
		extraBW = BWUnit - bw
	}
	for i := 0; i < n; i++ {
		c := &Core{
			id:        i,
			sys:       s,
			online:    true,
			capacity:  CapacityUnit,
			freqScale: CapacityUnit,
			bw:        CoreBandwidth{core: i, extraBW: extraBW, freqHook: cfg.FreqHook},
			dl:        newDeadlineRunqueue(),
		}
		initRTRunqueue(&c.rt)
		s.cores = append(s.cores, c)
	}
	s.domain = &Domain{
		cores:  s.cores,
		bounds: bounds,
		ledger: DomainLedger{bw: bw, nrCores: n},
	}
	s.domain.online.Store(uint64(MaskAll(n)))
	s.domain.rootGroup = s.NewGroup("root", groupRuntime, groupPeriod)
	return s
}

// Clock returns the domain clock.
func (s *System) Clock() Clock { return s.clock }

// Timers returns the timer queue, for the event loop driving the system.
func (s *System) Timers() *TimerQueue { return s.timers }

// Domain returns the bandwidth domain.
func (s *System) Domain() *Domain { return s.domain }

// Cores returns the cores of the domain.
func (s *System) Cores() []*Core { return s.cores }

// Metrics returns the behavior counters.
func (s *System) Metrics() *Metrics { return s.metrics }

// RootGroup returns the default fixed-priority bandwidth group.
func (s *System) RootGroup() *RTGroup { return s.domain.rootGroup }

// NewEntity creates a best-effort entity allowed on every core. It enters
// the scheduler core when a policy is set.
func (s *System) NewEntity(name string) *Entity {
	e := &Entity{
		ID:        int(s.nextID.Add(1)),
		Name:      name,
		policy:    PolicyOther,
		prio:      NumPriorities - 1,
		basePrio:  NumPriorities - 1,
		allowed:   MaskAll(len(s.cores)),
		nrAllowed: len(s.cores),
	}
	return e
}

// lockOwner locks and returns the core currently owning e. The core may
// change between reading it and taking its lock, so the read is repeated
// under the lock until it sticks.
func (s *System) lockOwner(e *Entity) *Core {
	for {
		c := s.cores[e.Core()]
		c.mu.Lock()
		if e.Core() == c.id {
			return c
		}
		c.mu.Unlock()
	}
}

func (s *System) classOf(p Policy) Class {
	switch p {
	case PolicyDeadline:
		return s.dl
	case PolicyFixedPriority:
		return s.rt
	}
	return nil
}

// detach takes e off its current class's runqueue and runs the class-exit
// hook, preserving whether it was queued. Called with c.mu held.
func (s *System) detach(c *Core, e *Entity) bool {
	cls := s.classOf(e.policy)
	if cls == nil {
		return false
	}
	if c.curr == e {
		cls.PutPrev(c, e)
	}
	wasQueued := e.onRq
	if wasQueued {
		cls.Dequeue(c, e, DequeueSave)
	}
	return wasQueued
}

// SetDeadlinePolicy admits e into the deadline class with the given
// reservation, or reconfigures its reservation in place. On any error the
// entity keeps its previous policy and parameters untouched.
func (s *System) SetDeadlinePolicy(e *Entity, p DeadlineParams) error {
	if err := ValidateDeadlineParams(&p, s.domain.bounds); err != nil {
		return err
	}
	c := s.lockOwner(e)
	defer c.mu.Unlock()

	newBW := toRatio(p.Period, p.Runtime)
	if p.Flags&DeadlineSpecial == 0 {
		// A reservation still waiting on its zero-lag release counts
		// against the ledger; complete the release now so the
		// admission test sees the true remaining capacity.
		if e.pendingRelease {
			e.invalidateTimers()
			if e.zeroLagTimer != nil {
				s.timers.Cancel(e.zeroLagTimer)
				e.zeroLagTimer = nil
			}
			s.dl.dropCharge(c, e)
		}
		oldBW := int64(0)
		if e.policy == PolicyDeadline && !e.special() {
			oldBW = e.bwRatio
		}
		var err error
		s.domain.withLedger(func(l *DomainLedger) {
			if oldBW > 0 {
				l.Release(oldBW)
			}
			if err = l.TryReserve(newBW); err != nil && oldBW > 0 {
				// Restore the old reservation; it just fit.
				_ = l.TryReserve(oldBW)
			}
		})
		if err != nil {
			s.metrics.AdmissionRejections.Add(1)
			return err
		}
	}

	wasQueued := s.detach(c, e)
	wasRunning := c.curr == e

	if e.policy == PolicyDeadline {
		// Reconfiguration: strip the old reservation's per-core
		// charges; the new ones are applied below and on wakeup.
		e.invalidateTimers()
		if e.replTimer != nil {
			s.timers.Cancel(e.replTimer)
			e.replTimer = nil
		}
		if e.zeroLagTimer != nil {
			s.timers.Cancel(e.zeroLagTimer)
			e.zeroLagTimer = nil
		}
		if !e.special() {
			if e.cbs != CBSInactive {
				c.bw.subRunning(e.bwRatio)
			}
			c.bw.subThis(e.bwRatio)
		}
		e.cbs = CBSInactive
		e.nonContending = false
		e.throttled = false
		e.pendingRelease = false
	} else if cls := s.classOf(e.policy); cls != nil {
		cls.SwitchedFrom(c, e)
	}

	e.policy = PolicyDeadline
	e.group = nil
	e.params = p
	if p.Flags&DeadlineSpecial != 0 {
		e.bwRatio = 0
		e.density = 0
	} else {
		e.bwRatio = newBW
		e.density = toRatio(p.Deadline, p.Runtime)
		c.bw.addThis(e.bwRatio)
	}
	s.dl.SwitchedTo(c, e)
	if wasQueued {
		s.dl.Enqueue(c, e, EnqueueWakeup)
	}
	if wasRunning {
		c.needResched = true
	}
	return nil
}

// SetFixedPriority moves e into the fixed-priority class at the given level
// (0 = highest) in the given bandwidth group; a nil group means the root
// group. A deadline reservation it held stays charged until its zero-lag
// instant and is then returned to the ledger.
func (s *System) SetFixedPriority(e *Entity, prio int, g *RTGroup) error {
	if prio < 0 || prio >= NumPriorities {
		return fmt.Errorf("%w: priority %d outside [0, %d)", ErrInvalidParameters, prio, NumPriorities)
	}
	if g == nil {
		g = s.domain.rootGroup
	}
	c := s.lockOwner(e)
	defer c.mu.Unlock()

	wasQueued := s.detach(c, e)
	wasRunning := c.curr == e
	if cls := s.classOf(e.policy); cls != nil {
		cls.SwitchedFrom(c, e)
	}

	e.policy = PolicyFixedPriority
	e.prio = prio
	e.basePrio = prio
	e.group = g
	s.rt.SwitchedTo(c, e)
	if wasQueued {
		s.rt.Enqueue(c, e, EnqueueRestore)
	}
	if wasRunning {
		c.needResched = true
	}
	return nil
}

// ClearPolicy returns e to the external best-effort class.
func (s *System) ClearPolicy(e *Entity) {
	c := s.lockOwner(e)
	defer c.mu.Unlock()

	s.detach(c, e)
	wasRunning := c.curr == e
	if cls := s.classOf(e.policy); cls != nil {
		cls.SwitchedFrom(c, e)
	}
	e.policy = PolicyOther
	e.group = nil
	e.prio = NumPriorities - 1
	e.basePrio = e.prio
	if wasRunning {
		c.curr = nil
		c.needResched = true
	}
}

// SetWatchdog configures the runtime watchdog for a fixed-priority entity:
// one notification past soft, one past hard, reset on every wakeup. Zero
// disables a limit.
func (s *System) SetWatchdog(e *Entity, soft, hard int64) {
	c := s.lockOwner(e)
	defer c.mu.Unlock()
	e.softLimit = soft
	e.hardLimit = hard
	e.watchdogTime = 0
	e.softNotified = false
	e.hardNotified = false
}

// Wake makes e runnable and enqueues it on the core its class selects,
// preferring hint. Idempotent: waking a runnable entity is a no-op.
func (s *System) Wake(e *Entity, hint int) {
	cls := s.classOf(e.policy)
	if cls == nil {
		return
	}
	target := cls.SelectCore(e, hint)
	c := s.lockOwner(e)
	if e.runnable {
		c.mu.Unlock()
		return
	}
	e.runnable = true
	if target != c.id && e.allowed.Has(target) {
		t := s.cores[target]
		c.mu.Unlock()
		lockOrdered(c, t)
		if e.Core() == c.id && !e.onRq && t.online {
			cls.Migrate(e, c, t)
			cls.Enqueue(t, e, EnqueueWakeup)
			unlockBoth(c, t)
			return
		}
		// Lost the placement race; fall back to the current owner.
		unlockBoth(c, t)
		c = s.lockOwner(e)
	}
	cls.Enqueue(c, e, EnqueueWakeup)
	c.mu.Unlock()
}

// Block takes a runnable entity off its runqueue. For deadline entities the
// bandwidth stays charged until the zero-lag instant. Idempotent.
func (s *System) Block(e *Entity) {
	c := s.lockOwner(e)
	defer c.mu.Unlock()
	if !e.runnable {
		return
	}
	e.runnable = false
	cls := s.classOf(e.policy)
	if cls == nil {
		return
	}
	if c.curr == e {
		cls.PutPrev(c, e)
		c.curr = nil
		c.needResched = true
	}
	if e.onRq {
		cls.Dequeue(c, e, DequeueSleep)
	} else if e.policy == PolicyDeadline {
		// Throttled and parked on the replenishment timer; the grace
		// period still applies.
		s.dl.taskNonContending(c, e, s.clock.Now())
	}
}

// Tick fires due timers and charges the core's running entity. The driver
// calls it at its tick granularity per core.
func (s *System) Tick(core int) {
	now := s.clock.Now()
	s.timers.FireDue(now)
	c := s.cores[core]
	c.mu.Lock()
	if c.curr != nil {
		if cls := s.classOf(c.curr.policy); cls != nil {
			cls.TaskTick(c, c.curr)
		}
	}
	if c.avg.Update(now, c.curr != nil, c.curr != nil, c.curr != nil) {
		c.pubUtil.Store(c.avg.RunningAvg)
	}
	c.mu.Unlock()
}

// Schedule runs one scheduling decision on the core: put back the outgoing
// entity, service pending push requests, pull from overloaded peers, pick
// the next entity (deadline before fixed-priority), and push surplus work
// away. Returns the entity now running, nil when the core idles.
func (s *System) Schedule(core int) *Entity {
	c := s.cores[core]
	c.mu.Lock()
	c.needResched = false
	prev := c.curr
	if prev != nil {
		if cls := s.classOf(prev.policy); cls != nil {
			cls.PutPrev(c, prev)
		}
		c.curr = nil
	}

	// Service fire-and-forget push requests from peers, once per
	// generation so forwarded requests terminate.
	if req := c.pushReq.Load(); req != c.pushAck {
		c.pushAck = req
		c.mu.Unlock()
		s.dl.pushAll(c)
		s.rt.pushAll(c)
		c.mu.Lock()
	}

	if c.online {
		// Pull side. balance drops and retakes c's lock.
		s.dl.balance(c)
		s.rt.balance(c)
	}

	var next *Entity
	if c.online {
		next = s.dl.PickNext(c)
		if next == nil {
			next = s.rt.PickNext(c)
		}
	}
	c.curr = next
	if next != prev {
		s.metrics.ContextSwitches.Add(1)
	}
	pushDL := c.dl.overloaded
	pushRT := c.rt.overloaded
	c.mu.Unlock()

	if pushDL {
		s.dl.pushAll(c)
	}
	if pushRT {
		s.rt.pushAll(c)
	}
	return next
}

// Yield gives up the rest of the current instance. A deadline entity
// forfeits its remaining budget until the next replenishment; a
// fixed-priority entity rotates to the back of its level.
func (s *System) Yield(e *Entity) {
	c := s.lockOwner(e)
	defer c.mu.Unlock()
	if c.curr != e {
		return
	}
	now := s.clock.Now()
	switch e.policy {
	case PolicyDeadline:
		e.yielded = true
		s.dl.charge(c, e, now)
		if e.runtime > 0 {
			e.runtime = 0
		}
		if !e.throttled {
			s.dl.throttleCurr(c, e, now)
		}
		c.needResched = true
	case PolicyFixedPriority:
		s.rt.charge(c, e, now)
		e.timeslice = s.rt.timeslice
		c.rt.active.requeueTail(e)
		c.needResched = true
	}
}

// SetAffinity restricts e to the masked cores, migrating it away if its
// current core is no longer allowed.
func (s *System) SetAffinity(e *Entity, mask CoreMask) error {
	mask &= MaskAll(len(s.cores))
	if mask == 0 {
		return ErrEmptyAffinity
	}
	c := s.lockOwner(e)
	cls := s.classOf(e.policy)
	if cls == nil {
		e.allowed = mask
		e.nrAllowed = mask.Count()
	} else {
		cls.SetAffinity(c, e, mask)
	}
	if mask.Has(c.id) || cls == nil {
		if !mask.Has(c.id) {
			e.coreID.Store(int32(mask.First()))
		}
		c.mu.Unlock()
		return nil
	}
	t := s.cores[mask.First()]
	c.mu.Unlock()
	lockOrdered(c, t)
	if e.Core() == c.id {
		wasRunning := c.curr == e
		if wasRunning {
			cls.PutPrev(c, e)
			c.curr = nil
			c.needResched = true
		}
		cls.Migrate(e, c, t)
	}
	unlockBoth(c, t)
	return nil
}

// Boost runs e on a snapshot of donor's deadline parameters (priority
// inheritance across a shared resource). A throttled boosted entity is
// replenished immediately; its bandwidth accounting stays on its own
// reservation. A fixed-priority entity inherits the donor's level when it
// is higher and additionally keeps its group runnable while boosted.
func (s *System) Boost(e, donor *Entity) {
	snap := donor.Params()
	c := s.lockOwner(e)
	defer c.mu.Unlock()

	first := !e.boosted
	e.boosted = true
	e.donorParams = snap

	switch e.policy {
	case PolicyDeadline:
		if e.throttled {
			e.invalidateTimers()
			if e.replTimer != nil {
				s.timers.Cancel(e.replTimer)
				e.replTimer = nil
			}
			s.dl.replenish(e, s.clock.Now())
			e.throttled = false
			if e.runnable {
				s.dl.taskContending(c, e)
				s.dl.Enqueue(c, e, EnqueueReplenish)
			}
		}
		s.dl.PrioChanged(c, e)
	case PolicyFixedPriority:
		if g := e.group; g != nil {
			if first {
				g.mu.Lock()
				g.boostedCount++
				g.mu.Unlock()
			}
			if e.onRq && g.unpark(c.id, e) {
				e.onRq = false
				s.rt.Enqueue(c, e, EnqueueRestore)
			}
		}
		if donor.prio < e.prio {
			s.rt.setPrio(c, e, donor.prio, true)
		}
		s.rt.PrioChanged(c, e)
	}
}

// Deboost reverts a Boost. The current CBS instance keeps running on the
// inherited deadline until its natural end; a fixed-priority entity drops
// back to its base level at once.
func (s *System) Deboost(e *Entity) {
	c := s.lockOwner(e)
	defer c.mu.Unlock()
	if !e.boosted {
		return
	}
	e.boosted = false
	switch e.policy {
	case PolicyDeadline:
		s.dl.PrioChanged(c, e)
	case PolicyFixedPriority:
		if g := e.group; g != nil {
			g.mu.Lock()
			g.boostedCount--
			g.mu.Unlock()
		}
		s.rt.setPrio(c, e, e.basePrio, false)
		s.rt.PrioChanged(c, e)
	}
}

// SetCoreOnline returns a core to the domain: it contributes admission
// capacity again and becomes a balancing target.
func (s *System) SetCoreOnline(core int) {
	c := s.cores[core]
	c.mu.Lock()
	if c.online {
		c.mu.Unlock()
		return
	}
	c.online = true
	s.domain.online.Or(uint64(1) << uint(core))
	s.dl.RqOnline(c)
	s.rt.RqOnline(c)
	c.mu.Unlock()
	s.domain.withLedger(func(l *DomainLedger) { l.nrCores++ })
}

// SetCoreOffline removes a core from the domain and evacuates its queued
// entities to online allowed cores. Entities pinned to the offline core
// stay queued there and resume when it returns.
func (s *System) SetCoreOffline(core int) {
	c := s.cores[core]
	c.mu.Lock()
	if !c.online {
		c.mu.Unlock()
		return
	}
	c.online = false
	s.domain.online.And(^(uint64(1) << uint(core)))
	s.dl.RqOffline(c)
	s.rt.RqOffline(c)
	var evac []*Entity
	for _, e := range c.dl.queue.items {
		if e != c.curr {
			evac = append(evac, e)
		}
	}
	for p := 0; p < NumPriorities; p++ {
		for _, e := range c.rt.active.queue[p] {
			if e != c.curr {
				evac = append(evac, e)
			}
		}
	}
	if c.curr != nil {
		c.needResched = true
	}
	c.mu.Unlock()

	s.domain.withLedger(func(l *DomainLedger) { l.nrCores-- })

	online := s.domain.online.Load()
	for _, e := range evac {
		target := -1
		for i := range s.cores {
			if e.allowed.Has(i) && online&(1<<uint(i)) != 0 {
				target = i
				break
			}
		}
		if target < 0 {
			continue
		}
		t := s.cores[target]
		lockOrdered(c, t)
		if e.Core() == c.id && e.onRq {
			s.classOf(e.policy).Migrate(e, c, t)
		}
		unlockBoth(c, t)
	}
}
