package harness

import "testing"

func TestEventHeap_OrdersByTimestamp(t *testing.T) {
	h := NewEventHeap()
	h.Schedule(&TickEvent{BaseEvent{3000, 1}})
	h.Schedule(&TickEvent{BaseEvent{1000, 2}})
	h.Schedule(&TickEvent{BaseEvent{2000, 3}})

	want := []int64{1000, 2000, 3000}
	for i, ts := range want {
		ev := h.PopNext()
		if ev == nil || ev.Timestamp() != ts {
			t.Fatalf("pop %d: got %v, want timestamp %d", i, ev, ts)
		}
	}
	if h.PopNext() != nil {
		t.Errorf("empty heap pop returned an event")
	}
}

func TestEventHeap_WakeBeforeTickAtSameInstant(t *testing.T) {
	// A task waking exactly on a tick boundary must be visible to that
	// tick's scheduling decision.
	h := NewEventHeap()
	h.Schedule(&TickEvent{BaseEvent{1000, 1}})
	h.Schedule(&WakeEvent{BaseEvent{1000, 2}, nil})

	if got := h.PopNext().Type(); got != EventWake {
		t.Errorf("first event type = %v, want EventWake", got)
	}
	if got := h.PopNext().Type(); got != EventTick {
		t.Errorf("second event type = %v, want EventTick", got)
	}
}

func TestEventHeap_EventIDBreaksTies(t *testing.T) {
	h := NewEventHeap()
	h.Schedule(&WakeEvent{BaseEvent{1000, 7}, nil})
	h.Schedule(&WakeEvent{BaseEvent{1000, 3}, nil})
	h.Schedule(&WakeEvent{BaseEvent{1000, 5}, nil})

	want := []uint64{3, 5, 7}
	for i, id := range want {
		if got := h.PopNext().EventID(); got != id {
			t.Errorf("pop %d: event ID %d, want %d", i, got, id)
		}
	}
}

func TestEventHeap_PeekDoesNotRemove(t *testing.T) {
	h := NewEventHeap()
	if h.Peek() != nil {
		t.Errorf("peek on empty heap returned an event")
	}
	h.Schedule(&TickEvent{BaseEvent{500, 1}})
	if ev := h.Peek(); ev == nil || ev.Timestamp() != 500 {
		t.Fatalf("peek = %v, want timestamp 500", ev)
	}
	if h.Len() != 1 {
		t.Errorf("len after peek = %d, want 1", h.Len())
	}
}
