package sched

import "container/heap"

// entityHeap is an indexed min-heap of entities with a caller-supplied
// ordering and deterministic tie-breaking. Removal by entity is O(log n)
// through the position map. An entity can sit in more than one heap at a
// time (its runqueue and its core's pushable set), so positions live in the
// heap rather than on the entity.
//
// Both disciplines use it twice over: the EDF runqueue and the deadline
// pushable set order by absolute deadline; the fixed-priority pushable set
// orders by priority level.
type entityHeap struct {
	items []*Entity
	pos   map[*Entity]int
	less  func(a, b *Entity) bool
}

func newEntityHeap(less func(a, b *Entity) bool) *entityHeap {
	return &entityHeap{pos: make(map[*Entity]int), less: less}
}

func byDeadline(a, b *Entity) bool {
	if a.deadline != b.deadline {
		return a.deadline < b.deadline
	}
	return a.ID < b.ID
}

func byPriority(a, b *Entity) bool {
	if a.prio != b.prio {
		return a.prio < b.prio
	}
	return a.ID < b.ID
}

func (h *entityHeap) Len() int { return len(h.items) }

func (h *entityHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *entityHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i]] = i
	h.pos[h.items[j]] = j
}

func (h *entityHeap) Push(x any) {
	e := x.(*Entity)
	h.pos[e] = len(h.items)
	h.items = append(h.items, e)
}

func (h *entityHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	delete(h.pos, e)
	return e
}

// Insert adds an entity; inserting one already present is a no-op.
func (h *entityHeap) Insert(e *Entity) {
	if _, ok := h.pos[e]; ok {
		return
	}
	heap.Push(h, e)
}

// Remove takes an entity out of the heap. Returns false if it was not there.
func (h *entityHeap) Remove(e *Entity) bool {
	i, ok := h.pos[e]
	if !ok {
		return false
	}
	heap.Remove(h, i)
	return true
}

// Contains reports membership.
func (h *entityHeap) Contains(e *Entity) bool {
	_, ok := h.pos[e]
	return ok
}

// Fix restores heap order after e's key changed in place.
func (h *entityHeap) Fix(e *Entity) {
	if i, ok := h.pos[e]; ok {
		heap.Fix(h, i)
	}
}

// Peek returns the minimum entity without removing it, or nil when empty.
func (h *entityHeap) Peek() *Entity {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// PopMin removes and returns the minimum entity, or nil when empty.
func (h *entityHeap) PopMin() *Entity {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(h).(*Entity)
}
