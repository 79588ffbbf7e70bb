package sched

import "math/bits"

// CoreMask is an affinity bitmask over the cores of a domain, bit i = core i.
// Domains are limited to 64 cores.
type CoreMask uint64

// MaskAll returns a mask allowing cores [0, n).
func MaskAll(n int) CoreMask {
	if n >= 64 {
		return ^CoreMask(0)
	}
	return CoreMask(1)<<uint(n) - 1
}

// MaskOf returns a mask allowing exactly the listed cores.
func MaskOf(cores ...int) CoreMask {
	var m CoreMask
	for _, c := range cores {
		m |= 1 << uint(c)
	}
	return m
}

// Has reports whether core i is allowed.
func (m CoreMask) Has(i int) bool {
	return m&(1<<uint(i)) != 0
}

// Count returns the number of allowed cores.
func (m CoreMask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// First returns the lowest allowed core index, or -1 for an empty mask.
func (m CoreMask) First() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}
