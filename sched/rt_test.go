package sched

import "testing"

func mustSetFixed(t *testing.T, sys *System, e *Entity, prio int, g *RTGroup) {
	t.Helper()
	if err := sys.SetFixedPriority(e, prio, g); err != nil {
		t.Fatalf("SetFixedPriority(%s): %v", e, err)
	}
}

func TestFixedPriorityPreemption(t *testing.T) {
	sys, _ := newTestSystem(1)
	low := sys.NewEntity("low")
	high := sys.NewEntity("high")
	mustSetFixed(t, sys, low, 20, nil)
	mustSetFixed(t, sys, high, 5, nil)

	sys.Wake(low, 0)
	if sys.Schedule(0) != low {
		t.Fatalf("lone entity not running")
	}
	sys.Wake(high, 0)
	if !sys.Cores()[0].NeedResched() {
		t.Fatalf("higher-priority wakeup did not request a reschedule")
	}
	if got := sys.Schedule(0); got != high {
		t.Errorf("pick = %v, want the higher priority", got)
	}

	// The lower one resumes once the higher blocks.
	sys.Block(high)
	if got := sys.Schedule(0); got != low {
		t.Errorf("pick after block = %v, want low", got)
	}
}

func TestRoundRobinRotation(t *testing.T) {
	clk := NewManualClock(0)
	sys := NewSystem(Config{Cores: 1, Clock: clk, Timeslice: 10 * Millisecond})
	a := sys.NewEntity("a")
	b := sys.NewEntity("b")
	mustSetFixed(t, sys, a, 10, nil)
	mustSetFixed(t, sys, b, 10, nil)

	sys.Wake(a, 0)
	sys.Wake(b, 0)
	first := sys.Schedule(0)
	if first != a {
		t.Fatalf("FIFO within level: first pick = %v, want a", first)
	}

	clk.AdvanceTo(10 * Millisecond)
	sys.Tick(0) // slice used up, peer waiting
	if !sys.Cores()[0].NeedResched() {
		t.Fatalf("slice expiry did not request a reschedule")
	}
	if got := sys.Schedule(0); got != b {
		t.Errorf("after rotation pick = %v, want b", got)
	}
}

func TestInvalidPriorityRejected(t *testing.T) {
	sys, _ := newTestSystem(1)
	e := sys.NewEntity("e")
	if err := sys.SetFixedPriority(e, NumPriorities, nil); err == nil {
		t.Errorf("priority %d accepted", NumPriorities)
	}
	if err := sys.SetFixedPriority(e, -1, nil); err == nil {
		t.Errorf("negative priority accepted")
	}
}

func TestGroupThrottleWindow(t *testing.T) {
	// A 50ms/1000ms group: once its members consume 50ms the group is
	// parked for the rest of the period, then released at the boundary.
	sys, clk := newTestSystem(1)
	g := sys.NewGroup("app", 50*Millisecond, 1000*Millisecond)
	e := sys.NewEntity("e")
	mustSetFixed(t, sys, e, 10, g)

	sys.Wake(e, 0)
	sys.Schedule(0)

	clk.AdvanceTo(60 * Millisecond)
	sys.Tick(0)
	if !sys.Cores()[0].NeedResched() {
		t.Fatalf("pool exhaustion did not request a reschedule")
	}
	if sys.Schedule(0) != nil {
		t.Fatalf("throttled group member still picked")
	}
	if !g.throttledOn(0) {
		t.Fatalf("group not throttled on core 0")
	}
	if sys.Metrics().GroupThrottles.Load() != 1 {
		t.Errorf("GroupThrottles = %d, want 1", sys.Metrics().GroupThrottles.Load())
	}

	clk.AdvanceTo(1000 * Millisecond)
	sys.Tick(0) // period timer pays the pool back
	if g.throttledOn(0) {
		t.Fatalf("group still throttled after its period boundary")
	}
	if got := sys.Schedule(0); got != e {
		t.Errorf("unparked entity not picked, got %v", got)
	}
	if sys.Metrics().GroupUnthrottles.Load() != 1 {
		t.Errorf("GroupUnthrottles = %d, want 1", sys.Metrics().GroupUnthrottles.Load())
	}
}

func TestGroupRuntimeBorrowing(t *testing.T) {
	// With spare quota on a peer core, exhausting the local quota borrows
	// instead of throttling.
	sys, clk := newTestSystem(2)
	g := sys.NewGroup("app", 10*Millisecond, 100*Millisecond)
	e := sys.NewEntity("e")
	mustSetFixed(t, sys, e, 10, g)
	if err := sys.SetAffinity(e, MaskOf(0)); err != nil {
		t.Fatalf("SetAffinity: %v", err)
	}

	sys.Wake(e, 0)
	sys.Schedule(0)
	clk.AdvanceTo(15 * Millisecond) // past the 10ms local quota
	sys.Tick(0)

	if g.throttledOn(0) {
		t.Fatalf("group throttled despite idle quota on core 1")
	}
	if sys.Metrics().GroupThrottles.Load() != 0 {
		t.Errorf("GroupThrottles = %d, want 0", sys.Metrics().GroupThrottles.Load())
	}
	if sys.Schedule(0) != e {
		t.Errorf("entity should keep running on borrowed quota")
	}
}

func TestBoostedGroupMemberKeepsRunning(t *testing.T) {
	sys, clk := newTestSystem(1)
	g := sys.NewGroup("app", 10*Millisecond, 1000*Millisecond)
	e := sys.NewEntity("e")
	donor := sys.NewEntity("donor")
	mustSetFixed(t, sys, e, 10, g)
	mustSetDeadline(t, sys, donor, 1*Millisecond, 10*Millisecond, 10*Millisecond)

	sys.Wake(e, 0)
	sys.Schedule(0)
	clk.AdvanceTo(20 * Millisecond)
	sys.Tick(0)
	sys.Schedule(0)
	if !g.throttledOn(0) {
		t.Fatalf("setup: group should be throttled")
	}

	// Boosting a member makes the group schedulable again.
	sys.Boost(e, donor)
	if g.throttledOn(0) {
		t.Fatalf("throttled group with a boosted member must report runnable")
	}
	if sys.Schedule(0) != e {
		t.Errorf("boosted member not picked")
	}

	sys.Deboost(e)
	if !g.throttledOn(0) {
		t.Errorf("deboost should restore the throttle")
	}
}

func TestWatchdogSoftThenHard(t *testing.T) {
	type firing struct {
		e    *Entity
		hard bool
	}
	var firings []firing
	clk := NewManualClock(0)
	sys := NewSystem(Config{
		Cores: 1, Clock: clk,
		WatchdogNotify: func(e *Entity, hard bool) { firings = append(firings, firing{e, hard}) },
	})
	e := sys.NewEntity("e")
	mustSetFixed(t, sys, e, 10, nil)
	sys.SetWatchdog(e, 5*Millisecond, 20*Millisecond)

	sys.Wake(e, 0)
	sys.Schedule(0)

	for ms := int64(1); ms <= 25; ms++ {
		clk.AdvanceTo(ms * Millisecond)
		sys.Tick(0)
	}

	if len(firings) != 2 {
		t.Fatalf("watchdog fired %d times, want 2 (soft then hard)", len(firings))
	}
	if firings[0].hard || !firings[1].hard {
		t.Errorf("firing order = %+v, want soft then hard", firings)
	}
	if sys.Metrics().WatchdogFirings.Load() != 2 {
		t.Errorf("WatchdogFirings = %d, want 2", sys.Metrics().WatchdogFirings.Load())
	}
}

func TestWatchdogResetsOnWakeup(t *testing.T) {
	var count int
	clk := NewManualClock(0)
	sys := NewSystem(Config{
		Cores: 1, Clock: clk,
		WatchdogNotify: func(*Entity, bool) { count++ },
	})
	e := sys.NewEntity("e")
	mustSetFixed(t, sys, e, 10, nil)
	sys.SetWatchdog(e, 10*Millisecond, 0)

	sys.Wake(e, 0)
	sys.Schedule(0)
	clk.AdvanceTo(6 * Millisecond)
	sys.Tick(0)
	sys.Block(e)

	clk.AdvanceTo(10 * Millisecond)
	sys.Wake(e, 0)
	sys.Schedule(0)
	clk.AdvanceTo(16 * Millisecond) // 6ms more; only 6ms since the wakeup
	sys.Tick(0)

	if count != 0 {
		t.Errorf("watchdog fired %d times across a wakeup reset, want 0", count)
	}
}

func TestBoostElevatesFixedPriorityLevel(t *testing.T) {
	// Priority inheritance: a boosted entity runs at its donor's level
	// and drops back to its base level when deboosted.
	sys, _ := newTestSystem(1)
	low := sys.NewEntity("low")
	peer := sys.NewEntity("peer")
	donor := sys.NewEntity("donor")
	mustSetFixed(t, sys, low, 50, nil)
	mustSetFixed(t, sys, peer, 20, nil)
	mustSetFixed(t, sys, donor, 5, nil)

	sys.Wake(low, 0)
	sys.Wake(peer, 0)
	if got := sys.Schedule(0); got != peer {
		t.Fatalf("pick = %v, want peer before the boost", got)
	}

	sys.Boost(low, donor)
	if got := low.Prio(); got != 5 {
		t.Fatalf("boosted prio = %d, want the donor's 5", got)
	}
	if got := sys.Schedule(0); got != low {
		t.Errorf("pick after boost = %v, want low", got)
	}

	sys.Deboost(low)
	if got := low.Prio(); got != 50 {
		t.Fatalf("prio after deboost = %d, want base 50", got)
	}
	if got := sys.Schedule(0); got != peer {
		t.Errorf("pick after deboost = %v, want peer", got)
	}
}

func TestBoostedEntityEntersLevelHead(t *testing.T) {
	// The inherited level is entered at the head, ahead of entities
	// already queued there.
	sys, _ := newTestSystem(1)
	a := sys.NewEntity("a")
	b := sys.NewEntity("b")
	low := sys.NewEntity("low")
	donor := sys.NewEntity("donor")
	mustSetFixed(t, sys, a, 5, nil)
	mustSetFixed(t, sys, b, 5, nil)
	mustSetFixed(t, sys, low, 50, nil)
	mustSetFixed(t, sys, donor, 5, nil)

	sys.Wake(a, 0)
	sys.Wake(b, 0)
	sys.Wake(low, 0)
	sys.Boost(low, donor)
	if got := sys.Schedule(0); got != low {
		t.Errorf("pick = %v, want the boosted entity ahead of its new level", got)
	}
}
