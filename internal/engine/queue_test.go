package engine

import "testing"

// ─── Event Queue ────────────────────────────────────────────────────────────

func TestEventQueueOrdersByTimeThenSequence(t *testing.T) {
	q := NewEventQueue(1024)
	q.Schedule(500, SimEvent{Actor: "c"})
	q.Schedule(100, SimEvent{Actor: "a"})
	q.Schedule(100, SimEvent{Actor: "b"})

	want := []string{"a", "b", "c"}
	for _, w := range want {
		ev, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned false, want event %q", w)
		}
		if ev.Payload.Actor != w {
			t.Errorf("Pop() actor = %q, want %q", ev.Payload.Actor, w)
		}
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty after draining all events")
	}
}

func TestEventQueuePeekDoesNotRemove(t *testing.T) {
	q := NewEventQueue(1024)
	q.Schedule(10, SimEvent{Actor: "x"})

	first, ok := q.Peek()
	if !ok || first.Payload.Actor != "x" {
		t.Fatalf("Peek() = %+v, %v", first, ok)
	}
	second, ok := q.Peek()
	if !ok || second.Payload.Actor != "x" {
		t.Fatalf("second Peek() = %+v, %v", second, ok)
	}
	if q.IsEmpty() {
		t.Error("Peek() must not remove the event")
	}
}

func TestEventQueueLiveCountInvariant(t *testing.T) {
	q := NewEventQueue(1024)
	for i := 0; i < 10; i++ {
		q.Schedule(SimTime(i), SimEvent{})
	}
	for i := 0; i < 4; i++ {
		q.Pop()
	}
	if got := q.LiveCount(); got != 6 {
		t.Errorf("LiveCount() = %d, want 6", got)
	}
}

func TestEventQueueClearResetsState(t *testing.T) {
	q := NewEventQueue(1024)
	for i := 0; i < 50; i++ {
		q.Schedule(SimTime(i*37), SimEvent{})
	}
	q.Clear()

	if !q.IsEmpty() {
		t.Error("Clear() should leave the queue empty")
	}
	if q.LiveCount() != 0 {
		t.Errorf("LiveCount() after Clear() = %d, want 0", q.LiveCount())
	}

	// Queue must remain usable after Clear, with a fresh sequence space.
	q.Schedule(5, SimEvent{Actor: "after-clear"})
	ev, ok := q.Pop()
	if !ok || ev.Payload.Actor != "after-clear" {
		t.Fatalf("queue unusable after Clear(): %+v, %v", ev, ok)
	}
}

func TestEventQueueWheelWraparound(t *testing.T) {
	q := NewEventQueue(1024)
	// Place the second event one full wheel rotation (wheelSize<<wheelShift ms) after the first.
	q.Schedule(0, SimEvent{Actor: "early"})
	q.Schedule(SimTime(wheelSize<<wheelShift)+1, SimEvent{Actor: "late"})

	ev, ok := q.Pop()
	if !ok || ev.Payload.Actor != "early" {
		t.Fatalf("first pop = %+v, %v, want early", ev, ok)
	}
	ev, ok = q.Pop()
	if !ok || ev.Payload.Actor != "late" {
		t.Fatalf("second pop = %+v, %v, want late", ev, ok)
	}
}

func TestEventQueueScheduleInSaturates(t *testing.T) {
	q := NewEventQueue(1024)
	q.ScheduleIn(MaxSimTime, 100, SimEvent{Actor: "saturated"})
	ev, ok := q.Pop()
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Time != MaxSimTime {
		t.Errorf("Time = %d, want saturated MaxSimTime %d", ev.Time, MaxSimTime)
	}
}
