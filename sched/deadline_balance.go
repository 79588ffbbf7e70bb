package sched

// Cross-core balancing for the deadline class: push entities away from
// overloaded cores, pull them toward idle or late-deadline cores. Target
// selection scans lock-free published state and every decision is
// re-validated after the locks are taken; a lost race is retried a bounded
// number of times and then left for the next balancing opportunity.

const pushMaxRetries = 3

// SelectCore implements Class: wake-time placement. An idle hint wins
// outright; otherwise the least-utilized core with no deadline work, then
// the core whose earliest deadline is the latest one still later than the
// entity's own.
func (d *DeadlineClass) SelectCore(e *Entity, hint int) int {
	if !e.Migratable() {
		return e.Core()
	}
	online := d.sys.domain.online.Load()
	cores := d.sys.cores

	fallback := -1
	if e.allowed.Has(hint) && online&(1<<uint(hint)) != 0 {
		if cores[hint].dl.pubEarliest.Load() == 0 {
			return hint
		}
		fallback = hint
	}
	best, idle := -1, -1
	bestDL, idleUtil := e.deadline, int64(0)
	for i, c := range cores {
		if !e.allowed.Has(i) || online&(1<<uint(i)) == 0 {
			continue
		}
		if fallback < 0 {
			fallback = i
		}
		pe := c.dl.pubEarliest.Load()
		if pe == 0 {
			// Among idle cores, prefer the least utilized.
			if u := c.pubUtil.Load(); idle < 0 || u < idleUtil {
				idle, idleUtil = i, u
			}
			continue
		}
		if pe > bestDL {
			bestDL = pe
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
func (d *DeadlineClass) findPushTarget(e *Entity) int {
	online := d.sys.domain.online.Load()
	best := -1
	bestDL := e.deadline
	for i, c := range d.sys.cores {
		if i == e.Core() || !e.allowed.Has(i) || online&(1<<uint(i)) == 0 {
			continue
		}
		pe := c.dl.pubEarliest.Load()
		if pe == 0 {
			return i
		}
		if pe > bestDL {
			bestDL = pe
			best = i
		}
	}
	return best
}

// pushTargetValid re-checks, under the target's lock, that moving e there
// still helps: the target either has no deadline entity or its earliest is
// strictly later than e's.
func (d *DeadlineClass) pushTargetValid(e *Entity, t *Core) bool {
	if !t.online || !e.allowed.Has(t.id) {
		return false
	}
	top := t.dl.queue.Peek()
	return top == nil || e.deadline < top.deadline
}

// pushOne moves the earliest pushable entity off c if somewhere better
// exists. Caller holds no locks. Returns true if an entity moved.
func (d *DeadlineClass) pushOne(c *Core) bool {
	for retry := 0; retry < pushMaxRetries; retry++ {
		c.mu.Lock()
		e := c.dl.pushable.Peek()
		if e == nil || c.dl.queue.Len() < 2 {
			c.mu.Unlock()
			return false
		}
		target := d.findPushTarget(e)
		c.mu.Unlock()
		if target < 0 || target == c.id {
			return false
		}
		t := d.sys.cores[target]

		lockOrdered(c, t)
		if !c.dl.pushable.Contains(e) || !d.pushTargetValid(e, t) {
			unlockBoth(c, t)
			d.sys.metrics.PushRaces.Add(1)
			continue
		}
		d.Migrate(e, c, t)
		d.sys.metrics.Pushes.Add(1)
		unlockBoth(c, t)
		return true
	}
	return false
}

// pushAll drains c's overload as far as targets exist.
func (d *DeadlineClass) pushAll(c *Core) {
	for d.pushOne(c) {
	}
}

// balance is the pull side, run before pick_next. Called with c.mu held; it
// drops and retakes c's lock around each source to respect the global lock
// order, so callers must re-read any core state afterwards.
func (d *DeadlineClass) balance(c *Core) {
	mask := d.sys.domain.dlOverload.snapshot()
	if mask == 0 {
		return
	}
	for i := range d.sys.cores {
		if i == c.id || mask&(1<<uint(i)) == 0 {
			continue
		}
		src := d.sys.cores[i]

		c.mu.Unlock()
		lockOrdered(c, src)
		localTop := c.dl.queue.Peek()
		if cand := d.pullCandidate(src, c, localTop); cand != nil {
			d.Migrate(cand, src, c)
			d.sys.metrics.Pulls.Add(1)
			c.needResched = true
		} else if src.dl.overloaded && src.curr != nil &&
			src.curr.policy == PolicyDeadline && !src.curr.Migratable() {
			// The overload sits on a pinned running entity; ask the
			// remote core, fire-and-forget, to push something else.
			src.requestPush()
			d.sys.metrics.IPISignals.Add(1)
		}
		src.mu.Unlock()
	}
}

// pullCandidate returns the earliest-deadline pushable entity on src that
// may run on dst and would improve on dst's current earliest.
func (d *DeadlineClass) pullCandidate(src, dst *Core, localTop *Entity) *Entity {
	var best *Entity
	for _, e := range src.dl.pushable.items {
		if !e.allowed.Has(dst.id) {
			continue
		}
		if localTop != nil && e.deadline >= localTop.deadline {
			continue
		}
		if best == nil || byDeadline(e, best) {
			best = e
		}
	}
	return best
}
