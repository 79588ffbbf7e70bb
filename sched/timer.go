package sched

import (
	"container/heap"
	"sync"
)

// TimerFunc is an armed callback. It runs in interrupt-like context: it must
// acquire the owning core's lock itself and re-validate entity state before
// acting, because the entity may have migrated, changed policy or been
// boosted between arming and firing.
type TimerFunc func(now int64, e *Entity, gen uint64)

// Timer is one armed absolute-time callback. Arming pins the entity via its
// reference count; firing or a successful cancel drops the pin.
type Timer struct {
	when  int64
	seq   uint64
	e     *Entity
	gen   uint64
	fn    TimerFunc
	index int // position in the heap, -1 once popped or cancelled
}

// When returns the absolute firing time.
func (t *Timer) When() int64 { return t.when }

// TimerQueue is the "invoke this callback no earlier than T" primitive.
// Ordering is deterministic: (when, arming sequence), same as the event heap
// ordering the simulation harness uses.
type TimerQueue struct {
	mu  sync.Mutex
	h   timerHeap
	seq uint64
}

// NewTimerQueue creates an empty timer queue.
func NewTimerQueue() *TimerQueue {
	q := &TimerQueue{}
	heap.Init(&q.h)
	return q
}

// Arm schedules fn at absolute time when, capturing the entity's current
// timer generation. e may be nil for timers not tied to an entity (group
// period timers). Returns nil without arming if when is not in the future of
// now; the caller then performs the action synchronously instead.
func (q *TimerQueue) Arm(now, when int64, e *Entity, fn TimerFunc) *Timer {
	if when <= now {
		return nil
	}
	var gen uint64
	if e != nil {
		e.retain()
		gen = e.timerGen.Load()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t := &Timer{when: when, seq: q.seq, e: e, gen: gen, fn: fn}
	heap.Push(&q.h, t)
	return t
}

// Cancel removes an armed timer. Best-effort: if the timer already fired (or
// a concurrent FireDue holds it), Cancel returns false and the callback is
// expected to no-op via its generation re-check.
func (q *TimerQueue) Cancel(t *Timer) bool {
	if t == nil {
		return false
	}
	q.mu.Lock()
	if t.index < 0 {
		q.mu.Unlock()
		return false
	}
	heap.Remove(&q.h, t.index)
	q.mu.Unlock()
	if t.e != nil {
		t.e.release()
	}
	return true
}

// FireDue pops and runs every callback due at or before now, in deterministic
// order. Callbacks run without the queue lock so they can arm or cancel
// timers themselves. Returns the number of callbacks run.
func (q *TimerQueue) FireDue(now int64) int {
	fired := 0
	for {
		q.mu.Lock()
		if q.h.Len() == 0 || q.h.items[0].when > now {
			q.mu.Unlock()
			return fired
		}
		t := heap.Pop(&q.h).(*Timer)
		q.mu.Unlock()

		t.fn(now, t.e, t.gen)
		if t.e != nil {
			t.e.release()
		}
		fired++
	}
}

// NextDeadline returns the earliest armed firing time, if any.
func (q *TimerQueue) NextDeadline() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h.items[0].when, true
}

// Len returns the number of armed timers.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// timerHeap implements heap.Interface ordered by (when, seq).
type timerHeap struct {
	items []*Timer
}

func (h *timerHeap) Len() int { return len(h.items) }

func (h *timerHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.when != b.when {
		return a.when < b.when
	}
	return a.seq < b.seq
}

func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(h.items)
	h.items = append(h.items, t)
}

func (h *timerHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	h.items = old[:n-1]
	return t
}
