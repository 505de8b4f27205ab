package session

import (
	"fmt"
	"testing"
)

func TestEventAggregatorEvictsOldest(t *testing.T) {
	a := NewEventAggregator(3)
	for i := 1; i <= 5; i++ {
		a.Add(TimelineMessageReceived, fmt.Sprintf("event %d", i), int64(i))
	}

	events := a.Events()
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []int64{3, 4, 5} {
		if events[i].ActorID != want {
			t.Errorf("event %d: got actor %d, want %d", i, events[i].ActorID, want)
		}
	}
}

func TestEventAggregatorReset(t *testing.T) {
	a := NewEventAggregator(0) // zero falls back to the default capacity
	a.Add(TimelinePatientWaiting, "Pat entered the waiting room", 200)
	if len(a.Events()) != 1 {
		t.Fatal("event not recorded")
	}

	a.Reset()
	if len(a.Events()) != 0 {
		t.Fatal("events survived reset")
	}
}
