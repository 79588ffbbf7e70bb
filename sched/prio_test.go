package sched

import "testing"

func TestPriorityArray_HighestWins(t *testing.T) {
	var pa priorityArray
	low := &Entity{ID: 1, prio: 50}
	high := &Entity{ID: 2, prio: 3}
	mid := &Entity{ID: 3, prio: 20}

	pa.enqueue(low, false)
	pa.enqueue(high, false)
	pa.enqueue(mid, false)

	if pa.highest() != 3 {
		t.Errorf("highest = %d, want 3", pa.highest())
	}
	if pa.peek() != high {
		t.Errorf("peek = %v, want the prio-3 entity", pa.peek())
	}
	if pa.len() != 3 {
		t.Errorf("len = %d, want 3", pa.len())
	}
}

func TestPriorityArray_DequeueClearsBitmap(t *testing.T) {
	var pa priorityArray
	e := &Entity{ID: 1, prio: 70} // second bitmap word
	pa.enqueue(e, false)
	if pa.highest() != 70 {
		t.Fatalf("highest = %d, want 70", pa.highest())
	}
	if !pa.dequeue(e) {
		t.Fatalf("dequeue of a queued entity failed")
	}
	if pa.highest() != -1 || pa.len() != 0 {
		t.Errorf("array should be empty: highest=%d len=%d", pa.highest(), pa.len())
	}
	if pa.dequeue(e) {
		t.Errorf("second dequeue should report false")
	}
}

func TestPriorityArray_FIFOWithinLevel(t *testing.T) {
	var pa priorityArray
	a := &Entity{ID: 1, prio: 10}
	b := &Entity{ID: 2, prio: 10}
	pa.enqueue(a, false)
	pa.enqueue(b, false)
	if pa.peek() != a {
		t.Fatalf("FIFO order: want a first")
	}

	// Head insertion jumps the line (restore after preemption).
	c := &Entity{ID: 3, prio: 10}
	pa.enqueue(c, true)
	if pa.peek() != c {
		t.Errorf("head enqueue should be first")
	}
}

func TestPriorityArray_RequeueTail(t *testing.T) {
	var pa priorityArray
	a := &Entity{ID: 1, prio: 10}
	b := &Entity{ID: 2, prio: 10}
	pa.enqueue(a, false)
	pa.enqueue(b, false)

	pa.requeueTail(a)
	if pa.peek() != b {
		t.Errorf("after rotation b should lead")
	}
	if pa.len() != 2 {
		t.Errorf("rotation changed the count: %d", pa.len())
	}
}

func TestEntityHeap_OrderAndRemoval(t *testing.T) {
	h := newEntityHeap(byDeadline)
	a := &Entity{ID: 1, deadline: 300}
	b := &Entity{ID: 2, deadline: 100}
	c := &Entity{ID: 3, deadline: 200}

	h.Insert(a)
	h.Insert(b)
	h.Insert(c)
	h.Insert(b) // idempotent

	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3 after duplicate insert", h.Len())
	}
	if h.Peek() != b {
		t.Errorf("peek = %v, want earliest deadline", h.Peek())
	}
	if !h.Remove(c) || h.Remove(c) {
		t.Errorf("remove should succeed once then report false")
	}

	// In-place key change plus Fix re-sorts.
	b.deadline = 500
	h.Fix(b)
	if h.Peek() != a {
		t.Errorf("after Fix, a (300) should lead")
	}
	if got := h.PopMin(); got != a {
		t.Errorf("PopMin = %v, want a", got)
	}
}

func TestEntityHeap_TieBreakByID(t *testing.T) {
	h := newEntityHeap(byDeadline)
	x := &Entity{ID: 9, deadline: 100}
	y := &Entity{ID: 2, deadline: 100}
	h.Insert(x)
	h.Insert(y)
	if h.Peek() != y {
		t.Errorf("equal deadlines must order by ID")
	}
}
