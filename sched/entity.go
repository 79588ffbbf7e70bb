package sched

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Policy identifies the scheduling class of an entity. The set is closed:
// the core schedules Deadline before FixedPriority; Other entities belong to
// the external best-effort class and are never queued here.
type Policy int

const (
	PolicyOther Policy = iota
	PolicyFixedPriority
	PolicyDeadline
)

func (p Policy) String() string {
	switch p {
	case PolicyDeadline:
		return "deadline"
	case PolicyFixedPriority:
		return "fixed-priority"
	default:
		return "other"
	}
}

// DeadlineFlags modify CBS behavior for one entity.
type DeadlineFlags uint8

const (
	// DeadlineReclaim lets the entity reclaim unused domain bandwidth
	// (GRUB): its budget depletes slower while other reservations idle.
	DeadlineReclaim DeadlineFlags = 1 << iota
	// DeadlineOverrunNotify requests a notification when the entity
	// consumes more than its reserved runtime within a period.
	DeadlineOverrunNotify
	// DeadlineSpecial marks an entity whose bandwidth is not charged to
	// the domain ledger (admission-exempt helper entities).
	DeadlineSpecial
)

// DeadlineParams are the reservation parameters of a deadline entity.
// Immutable while the entity stays in the class; reconfiguration goes back
// through the validation gate and the admission test.
type DeadlineParams struct {
	Runtime  int64 // reserved budget per period
	Deadline int64 // relative deadline
	Period   int64 // replenishment period; defaults to Deadline
	Flags    DeadlineFlags
}

// Implicit reports whether the relative deadline equals the period.
// Constrained-deadline entities (Deadline < Period) get the revised-wakeup
// rule instead of a fresh period on an overflowing wake.
func (p DeadlineParams) Implicit() bool {
	return p.Deadline == p.Period
}

// CBSState is the bandwidth-accounting state of a deadline entity.
type CBSState int

const (
	// CBSInactive: no bandwidth charged to the core.
	CBSInactive CBSState = iota
	// CBSContending: runnable or recently so; charged to runningBW.
	CBSContending
	// CBSNonContending: blocked but still before its zero-lag time; still
	// charged until the zero-lag timer fires.
	CBSNonContending
)

// Entity is one schedulable unit. All mutable scheduling state is owned by
// the core the entity is currently assigned to and must only be touched with
// that core's lock held; the System methods enforce this.
type Entity struct {
	ID   int
	Name string

	policy Policy
	prio   int      // fixed-priority level, 0 = highest
	group  *RTGroup // bandwidth group, fixed-priority class only

	// Own reservation parameters plus ratios derived once at admission:
	// bwRatio = Runtime/Period and density = Runtime/Deadline in BW units.
	params  DeadlineParams
	bwRatio int64
	density int64

	// Boosting indirection: while boosted the entity runs on a snapshot of
	// the donor's parameters, never on a pointer into the donor's state.
	// Bandwidth stays accounted with the entity's own bwRatio.
	boosted     bool
	donorParams DeadlineParams

	// CBS runtime state.
	runtime       int64 // remaining budget
	deadline      int64 // absolute deadline
	cbs           CBSState
	throttled     bool
	yielded       bool
	nonContending bool
	overrun       bool // overrun detected, notification pending
	lagWarned     bool // rate-limits the clock-lag diagnostic

	replTimer    *Timer
	zeroLagTimer *Timer
	timerGen     atomic.Uint64
	refs         atomic.Int32

	// Placement. coreID is atomic so timer callbacks can resolve the
	// owning core lock-free and re-validate after locking it; everything
	// else is under the owning core's lock.
	coreID    atomic.Int32
	allowed   CoreMask
	nrAllowed int
	onRq      bool
	running   bool
	runnable  bool

	// pendingRelease marks a reservation whose ledger release is deferred
	// to the zero-lag timer after the entity left the deadline class.
	pendingRelease bool

	// Fixed-priority state. basePrio is the configured level; prio differs
	// from it only while priority-boosted.
	basePrio     int
	timeslice    int64
	watchdogTime int64
	softLimit    int64 // watchdog soft runtime limit, 0 = disabled
	hardLimit    int64 // watchdog hard runtime limit, 0 = disabled
	softNotified bool
	hardNotified bool

	execStart int64
	avg       UtilizationAverage
}

func (e *Entity) String() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("entity-%d", e.ID)
}

// effParams returns the parameters the entity currently schedules under:
// its own, or the boost donor's snapshot.
func (e *Entity) effParams() *DeadlineParams {
	if e.boosted {
		return &e.donorParams
	}
	return &e.params
}

// Migratable reports whether the balancer may move the entity to another core.
func (e *Entity) Migratable() bool {
	return e.nrAllowed > 1
}

// Policy returns the entity's current scheduling class.
func (e *Entity) Policy() Policy { return e.policy }

// Prio returns the fixed-priority level (0 = highest).
func (e *Entity) Prio() int { return e.prio }

// Core returns the index of the core currently hosting the entity.
func (e *Entity) Core() int { return int(e.coreID.Load()) }

// special reports an admission-exempt entity: its bandwidth is never charged
// to the ledger or the per-core counters.
func (e *Entity) special() bool {
	return e.params.Flags&DeadlineSpecial != 0
}

// Runnable reports the generic runnable/blocked state maintained by the
// external life-cycle manager via System.Wake and System.Block.
func (e *Entity) Runnable() bool { return e.runnable }

// Throttled reports whether the entity exhausted its budget and is waiting
// for replenishment.
func (e *Entity) Throttled() bool { return e.throttled }

// Boosted reports whether the entity currently borrows a donor's parameters.
func (e *Entity) Boosted() bool { return e.boosted }

// RemainingRuntime returns the unconsumed budget of the current period.
func (e *Entity) RemainingRuntime() int64 { return e.runtime }

// AbsDeadline returns the current absolute deadline.
func (e *Entity) AbsDeadline() int64 { return e.deadline }

// Params returns a copy of the entity's own reservation parameters.
func (e *Entity) Params() DeadlineParams { return e.params }

// Allowed returns the affinity mask.
func (e *Entity) Allowed() CoreMask { return e.allowed }

// retain pins the entity for an armed timer; release drops the pin.
// The counter guarantees an in-flight callback never observes a recycled
// entity, and going negative indicates a cancel/fire accounting bug.
func (e *Entity) retain() {
	e.refs.Add(1)
}

func (e *Entity) release() {
	if n := e.refs.Add(-1); n < 0 {
		logrus.Warnf("%s: timer reference count underflow (%d)", e, n)
		e.refs.Store(0)
	}
}

// invalidateTimers bumps the generation so that already-armed callbacks
// become no-ops when they re-validate under the core lock.
func (e *Entity) invalidateTimers() {
	e.timerGen.Add(1)
}
