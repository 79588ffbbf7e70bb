package sched

import (
	"sync"
	"sync/atomic"
)

// overloadMask publishes which cores of a domain host more runnable entities
// of a class than they can run. Writers set the mask bit before bumping the
// counter, so a reader that observes a non-zero count is guaranteed to see
// the corresponding bit; readers check the counter first and only then scan
// the mask.
type overloadMask struct {
	count atomic.Int32
	mask  atomic.Uint64
}

func (o *overloadMask) set(core int) {
	o.mask.Or(1 << uint(core))
	o.count.Add(1)
}

func (o *overloadMask) clear(core int) {
	o.count.Add(-1)
	o.mask.And(^(uint64(1) << uint(core)))
}

// snapshot returns the current overloaded-core mask, or 0 when no core is
// overloaded. Lock-free; callers re-validate under core locks before acting.
func (o *overloadMask) snapshot() uint64 {
	if o.count.Load() <= 0 {
		return 0
	}
	return o.mask.Load()
}

// Domain groups the cores that share a bandwidth ledger and balance load
// among each other. The Domain mutex guards the ledger and is always taken
// after any single core lock.
type Domain struct {
	cores  []*Core
	bounds PeriodBounds

	mu     sync.Mutex
	ledger DomainLedger

	// online mirrors core online state for lock-free placement scans.
	online atomic.Uint64

	dlOverload overloadMask
	rtOverload overloadMask

	rootGroup *RTGroup
}

// Cores returns the cores of the domain.
func (d *Domain) Cores() []*Core { return d.cores }

// Ledger runs fn with the domain ledger locked.
func (d *Domain) withLedger(fn func(l *DomainLedger)) {
	d.mu.Lock()
	fn(&d.ledger)
	d.mu.Unlock()
}

// TotalReservedBW returns the admitted deadline reservation sum.
func (d *Domain) TotalReservedBW() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.TotalBW()
}

// CapacityBW returns the admission capacity in BW units, -1 when unlimited.
func (d *Domain) CapacityBW() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.CapacityBW()
}
