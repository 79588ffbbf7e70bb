// Package sched implements the two real-time scheduling classes of a
// multiprocessor scheduler core: an earliest-deadline-first class with
// Constant Bandwidth Server reservations, and a fixed-priority class with
// group bandwidth throttling.
//
// # Reading Guide
//
// Start with these three files to understand the core:
//   - entity.go: Entity lifecycle (inactive → contending → non-contending) and parameters
//   - core.go: the per-core runqueue context and lock discipline
//   - class.go: the uniform scheduling-class interface and the System dispatcher
//
// # Architecture
//
// The package has no process-wide state. A System owns a Domain (shared
// bandwidth ledger, overload masks), a set of Cores (each with its own lock,
// deadline runqueue and fixed-priority runqueue) and a TimerQueue. All time is
// int64 nanoseconds read from a Clock; the package never sleeps or blocks, so
// it can be driven by the deterministic harness or by real timer interrupts.
//
// # Key pieces
//
//   - pelt.go: decayed utilization averages consumed by admission and frequency scaling
//   - bandwidth.go: the domain bandwidth ledger and per-core running/total counters
//   - deadline.go: EDF ordering plus the CBS replenishment state machine
//   - rt.go / rtgroup.go: priority-bitmap runqueue and periodic group throttling
//   - deadline_balance.go / rt_balance.go: the push/pull migration pattern
package sched
