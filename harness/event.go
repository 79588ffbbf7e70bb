package harness

import "container/heap"

// EventType discriminates the event kinds the harness processes.
type EventType int

const (
	EventWake EventType = iota
	EventTick
)

// eventTypePriority orders events sharing a timestamp: wakeups are processed
// before the tick so a task waking exactly on a tick boundary is visible to
// that tick's scheduling decision.
var eventTypePriority = map[EventType]int{
	EventWake: 0,
	EventTick: 1,
}

// Event is one scheduled occurrence in the run.
type Event interface {
	Timestamp() int64
	Type() EventType
	EventID() uint64
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	timestamp int64
	id        uint64
}

func (e *BaseEvent) Timestamp() int64 { return e.timestamp }
func (e *BaseEvent) EventID() uint64  { return e.id }

// TickEvent fires the periodic per-core tick across the whole domain.
type TickEvent struct {
	BaseEvent
}

func (e *TickEvent) Type() EventType { return EventTick }

// WakeEvent makes a task runnable and starts its next execution burst.
type WakeEvent struct {
	BaseEvent
	task *Task
}

func (e *WakeEvent) Type() EventType { return EventWake }

// EventHeap is a priority queue with deterministic ordering:
// timestamp → type priority → event ID.
type EventHeap struct {
	events []Event
}

// NewEventHeap creates an empty event heap.
func NewEventHeap() *EventHeap {
	h := &EventHeap{events: make([]Event, 0)}
	heap.Init(h)
	return h
}

// Len implements heap.Interface.
func (h *EventHeap) Len() int {
	return len(h.events)
}

// Less implements heap.Interface with deterministic ordering.
func (h *EventHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]
	if ei.Timestamp() != ej.Timestamp() {
		return ei.Timestamp() < ej.Timestamp()
	}
	pi, pj := eventTypePriority[ei.Type()], eventTypePriority[ej.Type()]
	if pi != pj {
		return pi < pj
	}
	return ei.EventID() < ej.EventID()
}

// Swap implements heap.Interface.
func (h *EventHeap) Swap(i, j int) {
	h.events[i], h.events[j] = h.events[j], h.events[i]
}

// Push implements heap.Interface.
func (h *EventHeap) Push(x any) {
	h.events = append(h.events, x.(Event))
}

// Pop implements heap.Interface.
func (h *EventHeap) Pop() any {
	old := h.events
	n := len(old)
	item := old[n-1]
	h.events = old[:n-1]
	return item
}

// Schedule adds an event to the heap.
func (h *EventHeap) Schedule(e Event) {
	heap.Push(h, e)
}

// PopNext removes and returns the next event, nil when empty.
func (h *EventHeap) PopNext() Event {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(Event)
}

// Peek returns the next event without removing it.
func (h *EventHeap) Peek() Event {
	if h.Len() == 0 {
		return nil
	}
	return h.events[0]
}
