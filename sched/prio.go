package sched

import "math/bits"

// NumPriorities is the number of fixed-priority levels. Level 0 is the
// highest priority, NumPriorities-1 the lowest.
const NumPriorities = 100

// priorityArray is the per-core fixed-priority runqueue body: a bitmap of
// occupied levels plus a FIFO queue per level. All access is under the
// owning core's lock.
type priorityArray struct {
	bitmap [2]uint64
	queue  [NumPriorities][]*Entity
	count  int
}

// enqueue adds e at its priority level. head puts it at the front of the
// level's FIFO (restore after preemption) instead of the back (fresh wakeup,
// round-robin rotation).
func (pa *priorityArray) enqueue(e *Entity, head bool) {
	p := e.prio
	if head {
		pa.queue[p] = append([]*Entity{e}, pa.queue[p]...)
	} else {
		pa.queue[p] = append(pa.queue[p], e)
	}
	pa.bitmap[p/64] |= 1 << uint(p%64)
	pa.count++
}

// dequeue removes e from its level. Returns false if it was not queued.
func (pa *priorityArray) dequeue(e *Entity) bool {
	p := e.prio
	q := pa.queue[p]
	for i, cand := range q {
		if cand == e {
			pa.queue[p] = append(q[:i:i], q[i+1:]...)
			if len(pa.queue[p]) == 0 {
				pa.bitmap[p/64] &^= 1 << uint(p%64)
			}
			pa.count--
			return true
		}
	}
	return false
}

// requeueTail rotates e to the back of its level's FIFO (round-robin slice
// expiry). No-op if e is not queued.
func (pa *priorityArray) requeueTail(e *Entity) {
	if pa.dequeue(e) {
		pa.enqueue(e, false)
	}
}

// highest returns the most eligible occupied level, or -1 when empty.
func (pa *priorityArray) highest() int {
	if pa.bitmap[0] != 0 {
		return bits.TrailingZeros64(pa.bitmap[0])
	}
	if pa.bitmap[1] != 0 {
		return 64 + bits.TrailingZeros64(pa.bitmap[1])
	}
	return -1
}

// peek returns the front entity of the highest occupied level, or nil.
func (pa *priorityArray) peek() *Entity {
	p := pa.highest()
	if p < 0 {
		return nil
	}
	return pa.queue[p][0]
}

func (pa *priorityArray) len() int { return pa.count }
