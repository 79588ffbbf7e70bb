package sched

import (
	"errors"
	"testing"
)

func TestDomainLedger_AdmissionAtCapacity(t *testing.T) {
	// 2 cores at the default 95% cap: two 0.75 reservations fit, a further
	// 0.5 would exceed 1.9 cores of capacity.
	l := DomainLedger{bw: DefaultDeadlineBandwidth, nrCores: 2}

	if err := l.TryReserve(BWUnit * 3 / 4); err != nil {
		t.Fatalf("first 0.75 rejected: %v", err)
	}
	if err := l.TryReserve(BWUnit * 3 / 4); err != nil {
		t.Fatalf("second 0.75 rejected: %v", err)
	}
	err := l.TryReserve(BWUnit / 2)
	if !errors.Is(err, ErrAdmissionRejected) {
		t.Fatalf("0.5 on a full domain: got %v, want ErrAdmissionRejected", err)
	}
	// A failed reservation must not change the total.
	if l.TotalBW() != BWUnit*3/2 {
		t.Errorf("TotalBW = %d, want %d", l.TotalBW(), BWUnit*3/2)
	}
}

func TestDomainLedger_Unlimited(t *testing.T) {
	l := DomainLedger{bw: UnlimitedBandwidth, nrCores: 1}
	for i := 0; i < 10; i++ {
		if err := l.TryReserve(BWUnit); err != nil {
			t.Fatalf("unlimited domain rejected reservation %d: %v", i, err)
		}
	}
	if l.CapacityBW() != -1 {
		t.Errorf("CapacityBW = %d, want -1", l.CapacityBW())
	}
}

func TestDomainLedger_ReleaseClampsAtZero(t *testing.T) {
	l := DomainLedger{bw: BWUnit, nrCores: 1}
	l.TryReserve(BWUnit / 4)
	l.Release(BWUnit / 2) // more than reserved
	if l.TotalBW() != 0 {
		t.Errorf("TotalBW = %d, want clamped 0", l.TotalBW())
	}
}

func TestCoreBandwidth_RunningNeverExceedsThis(t *testing.T) {
	cb := CoreBandwidth{core: 0}
	cb.addThis(BWUnit / 2)
	cb.addRunning(BWUnit / 2)
	cb.addRunning(BWUnit / 4) // would exceed thisBW
	if cb.RunningBW() != BWUnit/2 {
		t.Errorf("runningBW = %d, want clamped to thisBW %d", cb.RunningBW(), BWUnit/2)
	}
	cb.subThis(BWUnit / 4)
	if cb.RunningBW() != cb.ThisBW() {
		t.Errorf("shrinking thisBW must drag runningBW down: running=%d this=%d", cb.RunningBW(), cb.ThisBW())
	}
}

func TestCoreBandwidth_GrubFactor(t *testing.T) {
	extra := BWUnit - DefaultDeadlineBandwidth
	cb := CoreBandwidth{core: 0, extraBW: extra}

	// Everything assigned is running: no idle bandwidth to reclaim, the
	// factor is the full usable share.
	cb.addThis(BWUnit / 2)
	cb.addRunning(BWUnit / 2)
	want := BWUnit - extra
	if got := cb.grubFactor(BWUnit / 4); got != want {
		t.Errorf("no idle reservations: grubFactor = %d, want %d", got, want)
	}

	// Half the assigned bandwidth inactive: the factor shrinks by it.
	cb.subRunning(BWUnit / 4)
	want = BWUnit - BWUnit/4 - extra
	if got := cb.grubFactor(BWUnit / 8); got != want {
		t.Errorf("idle reservations: grubFactor = %d, want %d", got, want)
	}

	// Never below the entity's own reservation.
	if got := cb.grubFactor(BWUnit); got != BWUnit {
		t.Errorf("floor: grubFactor = %d, want entity bw %d", got, BWUnit)
	}
}

func TestCoreBandwidth_FreqHookObservesChanges(t *testing.T) {
	var seen []int64
	cb := CoreBandwidth{core: 0, freqHook: func(core int, bw int64) { seen = append(seen, bw) }}
	cb.addThis(BWUnit)
	cb.addRunning(BWUnit / 2)
	cb.subRunning(BWUnit / 4)
	if len(seen) != 2 || seen[0] != BWUnit/2 || seen[1] != BWUnit/4 {
		t.Errorf("hook observations = %v, want [%d %d]", seen, BWUnit/2, BWUnit/4)
	}
}
