package sched

import "github.com/sirupsen/logrus"

// DomainLedger is the per-domain pool of reserved deadline bandwidth.
// Guarded by the Domain mutex, which is always taken after any single core
// lock, never before.
type DomainLedger struct {
	bw      int64 // per-core reserved fraction in BW units; -1 = unlimited
	totalBW int64 // sum of all admitted reservations in the domain
	nrCores int   // online cores contributing capacity
}

// UnlimitedBandwidth disables the admission test for a domain.
const UnlimitedBandwidth = int64(-1)

// TryReserve runs the admission test for a new reservation of req BW units.
// The test is Σ reserved ≤ bw × nrCores; the ledger is only mutated on
// success.
func (l *DomainLedger) TryReserve(req int64) error {
	if l.bw >= 0 && l.totalBW+req > l.bw*int64(l.nrCores) {
		return ErrAdmissionRejected
	}
	l.totalBW += req
	return nil
}

// Release returns a reservation to the pool. The total is never trusted to
// go negative: an underflow is clamped and logged.
func (l *DomainLedger) Release(bw int64) {
	l.totalBW -= bw
	if l.totalBW < 0 {
		logrus.Warnf("bandwidth ledger underflow: total %d after releasing %d", l.totalBW, bw)
		l.totalBW = 0
	}
}

// TotalBW returns the currently admitted reservation sum.
func (l *DomainLedger) TotalBW() int64 { return l.totalBW }

// CapacityBW returns the admission capacity, or -1 when unlimited.
func (l *DomainLedger) CapacityBW() int64 {
	if l.bw < 0 {
		return -1
	}
	return l.bw * int64(l.nrCores)
}

// FreqHook observes running-bandwidth changes on a core, for frequency
// scaling. Called with the core's lock held; must not block.
type FreqHook func(core int, runningBW int64)

// CoreBandwidth mirrors the ledger per core: runningBW counts reservations
// of currently active (contending or non-contending) entities, thisBW counts
// every reservation assigned to this core. Invariant: runningBW ≤ thisBW.
// Guarded by the owning core's lock.
type CoreBandwidth struct {
	core      int
	runningBW int64
	thisBW    int64
	// extraBW is the slice of this core permanently unavailable for
	// reclaiming: BWUnit minus the deadline class's per-core cap.
	extraBW  int64
	freqHook FreqHook
}

// RunningBW returns the active-reservation sum for the core.
func (cb *CoreBandwidth) RunningBW() int64 { return cb.runningBW }

// ThisBW returns the assigned-reservation sum for the core.
func (cb *CoreBandwidth) ThisBW() int64 { return cb.thisBW }

func (cb *CoreBandwidth) addRunning(bw int64) {
	cb.runningBW += bw
	if cb.runningBW > cb.thisBW {
		logrus.Warnf("core %d: runningBW %d exceeds thisBW %d, clamping", cb.core, cb.runningBW, cb.thisBW)
		cb.runningBW = cb.thisBW
	}
	cb.freqChanged()
}

func (cb *CoreBandwidth) subRunning(bw int64) {
	cb.runningBW -= bw
	if cb.runningBW < 0 {
		logrus.Warnf("core %d: runningBW underflow (%d), clamping", cb.core, cb.runningBW)
		cb.runningBW = 0
	}
	cb.freqChanged()
}

func (cb *CoreBandwidth) addThis(bw int64) {
	cb.thisBW += bw
}

func (cb *CoreBandwidth) subThis(bw int64) {
	cb.thisBW -= bw
	if cb.thisBW < 0 {
		logrus.Warnf("core %d: thisBW underflow (%d), clamping", cb.core, cb.thisBW)
		cb.thisBW = 0
	}
	if cb.runningBW > cb.thisBW {
		cb.runningBW = cb.thisBW
		cb.freqChanged()
	}
}

func (cb *CoreBandwidth) freqChanged() {
	if cb.freqHook != nil {
		cb.freqHook(cb.core, cb.runningBW)
	}
}

// grubFactor returns the GRUB depletion factor for an entity with the given
// reservation, in BW units: active entities may reclaim bandwidth left idle
// by inactive reservations, but never below their own ratio and never past
// the full core.
func (cb *CoreBandwidth) grubFactor(entityBW int64) int64 {
	inactive := cb.thisBW - cb.runningBW
	u := BWUnit - inactive - cb.extraBW
	if u < entityBW {
		u = entityBW
	}
	if u > BWUnit {
		u = BWUnit
	}
	return u
}
