// Package harness drives the scheduler core deterministically: a discrete
// event loop advances a manual clock, synthetic tasks alternate execution
// bursts and sleeps, and all randomness flows from partitioned per-subsystem
// RNG streams so a (scenario, seed) pair always reproduces the same run.
package harness
