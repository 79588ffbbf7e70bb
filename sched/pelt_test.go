package sched

import "testing"

// advance by whole sub-periods: 1024µs in ns.
const peltStep = peltPeriod << DLScale

func TestUtilizationAverage_ConvergesWhenAlwaysRunning(t *testing.T) {
	var a UtilizationAverage
	a.Reset(0)

	now := int64(0)
	for i := 0; i < 320; i++ { // ten half-lives
		now += peltStep
		a.Update(now, true, true, true)
	}
	if a.RunningAvg < 1000 || a.RunningAvg > 1024 {
		t.Errorf("always-running average = %d, want near 1024", a.RunningAvg)
	}
	if a.LoadAvg < 1000 || a.RunnableAvg < 1000 {
		t.Errorf("load/runnable averages should converge too: load=%d runnable=%d", a.LoadAvg, a.RunnableAvg)
	}
}

func TestUtilizationAverage_DecaysWhenIdle(t *testing.T) {
	var a UtilizationAverage
	a.Reset(0)

	now := int64(0)
	for i := 0; i < 128; i++ {
		now += peltStep
		a.Update(now, true, true, true)
	}
	peak := a.RunningAvg

	// One half-life of idleness roughly halves the average.
	for i := 0; i < peltHalfLife; i++ {
		now += peltStep
		a.Update(now, false, false, false)
	}
	if a.RunningAvg >= peak {
		t.Fatalf("average did not decay: peak=%d now=%d", peak, a.RunningAvg)
	}
	if a.RunningAvg > peak*6/10 || a.RunningAvg < peak*4/10 {
		t.Errorf("after one half-life idle: %d, want about half of %d", a.RunningAvg, peak)
	}
}

func TestUtilizationAverage_SubPeriodUpdateReportsNoChange(t *testing.T) {
	var a UtilizationAverage
	a.Reset(0)

	// 100µs: no whole sub-period closes, averages must not be recomputed.
	if a.Update(100*Microsecond, true, true, true) {
		t.Errorf("sub-period update reported an average change")
	}
	if a.RunningAvg != 0 {
		t.Errorf("RunningAvg = %d before any closed period, want 0", a.RunningAvg)
	}
}

func TestUtilizationAverage_BackwardClockResets(t *testing.T) {
	var a UtilizationAverage
	a.Reset(10 * Millisecond)

	if a.Update(5*Millisecond, true, true, true) {
		t.Errorf("backward reading must not report an update")
	}
	// The window restarts at the new reading; a following forward update works.
	if !a.Update(5*Millisecond+2*peltStep, true, true, true) {
		t.Errorf("forward update after reset should close periods")
	}
}

func TestDecayLoad(t *testing.T) {
	if got := decayLoad(1024, 0); got != 1023 { // 1024 * (2^32-1) >> 32
		t.Errorf("decayLoad(1024, 0) = %d, want 1023", got)
	}
	if got := decayLoad(1024, peltHalfLife); got != 511 && got != 512 {
		t.Errorf("decayLoad(1024, 32) = %d, want ~512", got)
	}
	if got := decayLoad(1024, 64*peltHalfLife); got != 0 {
		t.Errorf("decayLoad far past history = %d, want 0", got)
	}
}
