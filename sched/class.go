package sched

// EnqueueFlags distinguish why an entity enters a runqueue.
type EnqueueFlags uint

const (
	// EnqueueWakeup: the entity just became runnable; runs the CBS
	// wake-time bandwidth checks for deadline entities.
	EnqueueWakeup EnqueueFlags = 1 << iota
	// EnqueueReplenish: re-queue after a replenishment; skips the
	// throttled guard.
	EnqueueReplenish
	// EnqueueRestore: re-queue as part of a migration or parameter change;
	// bandwidth was already moved by the caller.
	EnqueueRestore
	// EnqueueHead: insert at the front of the level FIFO (fixed-priority
	// class only).
	EnqueueHead
)

// DequeueFlags distinguish why an entity leaves a runqueue.
type DequeueFlags uint

const (
	// DequeueSleep: the entity blocked; starts the zero-lag grace period
	// for deadline entities.
	DequeueSleep DequeueFlags = 1 << iota
	// DequeueSave: temporary removal for migration or parameter change;
	// no bandwidth state transition.
	DequeueSave
)

// Class is the uniform scheduling-class interface the dispatcher drives.
// Every method except SelectCore is called with the core's lock held;
// SelectCore runs lock-free on published state. The set of implementations
// is closed: DeadlineClass and FPClass, with the best-effort class living
// outside this package.
type Class interface {
	// Enqueue adds the entity to c's runqueue of this class.
	Enqueue(c *Core, e *Entity, flags EnqueueFlags)
	// Dequeue removes the entity. Callers charge elapsed runtime first
	// (System does this for the running entity).
	Dequeue(c *Core, e *Entity, flags DequeueFlags)
	// PickNext returns the most eligible runnable entity or nil. The
	// entity stays in the runqueue while running.
	PickNext(c *Core) *Entity
	// PutPrev accounts the final runtime slice of the outgoing entity and
	// re-inserts it into the pushable set if still runnable and migratable.
	PutPrev(c *Core, e *Entity)
	// SelectCore suggests a target core for a waking entity.
	SelectCore(e *Entity, hint int) int
	// Migrate moves queue membership and bandwidth accounting between two
	// cores. Both core locks are held, lower index first.
	Migrate(e *Entity, from, to *Core)
	// SetAffinity applies a new allowed-core mask.
	SetAffinity(c *Core, e *Entity, mask CoreMask)
	// RqOnline / RqOffline track domain membership of a core and
	// re-publish its overload state.
	RqOnline(c *Core)
	RqOffline(c *Core)
	// PrioChanged reacts to an effective-priority change of a queued
	// entity (boosting, deboosting, reconfiguration).
	PrioChanged(c *Core, e *Entity)
	// SwitchedTo / SwitchedFrom run when an entity enters or leaves the
	// class.
	SwitchedTo(c *Core, e *Entity)
	SwitchedFrom(c *Core, e *Entity)
	// TaskTick charges the running entity for the tick and throttles or
	// preempts as needed.
	TaskTick(c *Core, e *Entity)
}
