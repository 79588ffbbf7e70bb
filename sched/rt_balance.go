package sched

// Cross-core balancing for the fixed-priority class. Same shape as the
// deadline side: lock-free scans of published top priorities pick a target,
// the decision is re-validated under the locks, races are retried a bounded
// number of times.

// SelectCore implements Class: wake-time placement. An idle hint wins
// outright; otherwise the least-utilized core with no fixed-priority work,
// then the core whose top priority is the lowest one the entity would still
// preempt.
func (f *FPClass) SelectCore(e *Entity, hint int) int {
	if !e.Migratable() {
		return e.Core()
	}
	online := f.sys.domain.online.Load()
	cores := f.sys.cores

	fallback := -1
	if e.allowed.Has(hint) && online&(1<<uint(hint)) != 0 {
		if cores[hint].rt.pubHighest.Load() == NumPriorities {
			return hint
		}
		fallback = hint
	}
	best, idle := -1, -1
	bestPrio, idleUtil := int32(e.prio), int64(0)
	for i, c := range cores {
		if !e.allowed.Has(i) || online&(1<<uint(i)) == 0 {
			continue
		}
		if fallback < 0 {
			fallback = i
		}
		ph := c.rt.pubHighest.Load()
		if ph == NumPriorities {
			// Among idle cores, prefer the least utilized.
			if u := c.pubUtil.Load(); idle < 0 || u < idleUtil {
				idle, idleUtil = i, u
			}
			continue
		}
		if ph > bestPrio {
			bestPrio = ph
			best = i
		}
	}
	if idle >= 0 {
		return idle
	}
	if best >= 0 {
		return best
	}
	if fallback >= 0 {
		return fallback
	}
	return e.Core()
}

// findPushTarget picks a destination for e from published state only.
// Returns -1 when no core would be an improvement.
func (f *FPClass) findPushTarget(e *Entity) int {
	online := f.sys.domain.online.Load()
	best := -1
	bestPrio := int32(e.prio)
	for i, c := range f.sys.cores {
		if i == e.Core() || !e.allowed.Has(i) || online&(1<<uint(i)) == 0 {
			continue
		}
		ph := c.rt.pubHighest.Load()
		if ph == NumPriorities {
			return i
		}
		if ph > bestPrio {
			bestPrio = ph
			best = i
		}
	}
	return best
}

// pushTargetValid re-checks, under the target's lock, that e would be the
// highest-priority entity there.
func (f *FPClass) pushTargetValid(e *Entity, t *Core) bool {
	if !t.online || !e.allowed.Has(t.id) {
		return false
	}
	top := t.rt.active.highest()
	return top < 0 || e.prio < top
}

// pushOne moves the best pushable entity off c if somewhere better exists.
// Caller holds no locks. Returns true if an entity moved.
func (f *FPClass) pushOne(c *Core) bool {
	for retry := 0; retry < pushMaxRetries; retry++ {
		c.mu.Lock()
		e := c.rt.pushable.Peek()
		if e == nil || c.rt.active.len() < 2 {
			c.mu.Unlock()
			return false
		}
		target := f.findPushTarget(e)
		c.mu.Unlock()
		if target < 0 || target == c.id {
			return false
		}
		t := f.sys.cores[target]

		lockOrdered(c, t)
		if !c.rt.pushable.Contains(e) || !f.pushTargetValid(e, t) {
			unlockBoth(c, t)
			f.sys.metrics.PushRaces.Add(1)
			continue
		}
		f.Migrate(e, c, t)
		f.sys.metrics.Pushes.Add(1)
		unlockBoth(c, t)
		return true
	}
	return false
}

// pushAll drains c's overload as far as targets exist.
func (f *FPClass) pushAll(c *Core) {
	for f.pushOne(c) {
	}
}

// balance is the pull side, run before pick_next. Called with c.mu held; it
// drops and retakes c's lock around each source to respect the global lock
// order, so callers must re-read any core state afterwards.
func (f *FPClass) balance(c *Core) {
	mask := f.sys.domain.rtOverload.snapshot()
	if mask == 0 {
		return
	}
	for i := range f.sys.cores {
		if i == c.id || mask&(1<<uint(i)) == 0 {
			continue
		}
		src := f.sys.cores[i]

		c.mu.Unlock()
		lockOrdered(c, src)
		localTop := c.rt.active.highest()
		if cand := f.pullCandidate(src, c, localTop); cand != nil {
			f.Migrate(cand, src, c)
			f.sys.metrics.Pulls.Add(1)
			c.needResched = true
		} else if src.rt.overloaded && src.curr != nil &&
			src.curr.policy == PolicyFixedPriority && !src.curr.Migratable() {
			// The overload sits on a pinned running entity; ask the
			// remote core, fire-and-forget, to push something else.
			src.requestPush()
			f.sys.metrics.IPISignals.Add(1)
		}
		src.mu.Unlock()
	}
}

// pullCandidate returns the highest-priority pushable entity on src that may
// run on dst and would preempt dst's current top. localTop < 0 means dst has
// no fixed-priority work.
func (f *FPClass) pullCandidate(src, dst *Core, localTop int) *Entity {
	var best *Entity
	for _, e := range src.rt.pushable.items {
		if !e.allowed.Has(dst.id) {
			continue
		}
		if localTop >= 0 && e.prio >= localTop {
			continue
		}
		if best == nil || byPriority(e, best) {
			best = e
		}
	}
	return best
}
