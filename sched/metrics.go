package sched

import (
	"fmt"
	"sync/atomic"
)

// Metrics aggregates counters about scheduler behavior for final reporting.
// Useful for evaluating balancing quality and debugging throttling behavior
// over time. All counters are atomic so timer callbacks can bump them from
// any context.
type Metrics struct {
	ContextSwitches     atomic.Int64
	Throttles           atomic.Int64
	Replenishments      atomic.Int64
	ClockLagResets      atomic.Int64
	AdmissionRejections atomic.Int64
	Overruns            atomic.Int64

	Pushes     atomic.Int64
	Pulls      atomic.Int64
	PushRaces  atomic.Int64 // bounded-retry migrations abandoned to a later round
	IPISignals atomic.Int64

	GroupThrottles   atomic.Int64
	GroupUnthrottles atomic.Int64
	WatchdogFirings  atomic.Int64
}

// Print displays aggregated metrics at the end of a run.
func (m *Metrics) Print() {
	fmt.Println("=== Scheduler Metrics ===")
	fmt.Printf("Context Switches     : %d\n", m.ContextSwitches.Load())
	fmt.Printf("Throttles            : %d\n", m.Throttles.Load())
	fmt.Printf("Replenishments       : %d\n", m.Replenishments.Load())
	fmt.Printf("Clock-Lag Resets     : %d\n", m.ClockLagResets.Load())
	fmt.Printf("Admission Rejections : %d\n", m.AdmissionRejections.Load())
	fmt.Printf("Overruns             : %d\n", m.Overruns.Load())
	fmt.Printf("Pushes / Pulls       : %d / %d\n", m.Pushes.Load(), m.Pulls.Load())
	fmt.Printf("Push Races Abandoned : %d\n", m.PushRaces.Load())
	fmt.Printf("IPI Push Requests    : %d\n", m.IPISignals.Load())
	fmt.Printf("Group Throttles      : %d (unthrottles %d)\n", m.GroupThrottles.Load(), m.GroupUnthrottles.Load())
	fmt.Printf("Watchdog Firings     : %d\n", m.WatchdogFirings.Load())
}
