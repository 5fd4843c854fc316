package events

import (
	"testing"
)

func TestPublishOrdering(t *testing.T) {
	bus := NewBus()

	var seen []EventType
	bus.SubscribeAll(func(e Event) {
		seen = append(seen, e.Type)
	})

	bus.EmitCycleStart(1)
	bus.Emit(EventCoinSelected, nil)
	bus.Emit(EventChampionSelected, nil)
	bus.EmitCycleComplete(nil)

	want := []EventType{EventCycleStart, EventCoinSelected, EventChampionSelected, EventCycleComplete}
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(seen))
	}
	for i, evt := range want {
		if seen[i] != evt {
			t.Errorf("event %d: expected %s, got %s", i, evt, seen[i])
		}
	}
}

func TestSubscribeTypeFiltering(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.Subscribe(EventTradeExecuted, func(e Event) { count++ })

	bus.Emit(EventCycleStart, nil)
	bus.Emit(EventTradeExecuted, nil)
	bus.Emit(EventCycleComplete, nil)

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(EventCycleStart, func(e Event) { count++ })

	bus.Emit(EventCycleStart, nil)
	bus.Unsubscribe(id)
	bus.Unsubscribe(id) // second removal is a no-op
	bus.Emit(EventCycleStart, nil)

	if count != 1 {
		t.Errorf("expected 1 delivery after unsubscribe, got %d", count)
	}
	if bus.ListenerCount() != 0 {
		t.Errorf("expected 0 listeners, got %d", bus.ListenerCount())
	}
}

func TestRemoveAllListeners(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventCycleStart, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.RemoveAllListeners()

	if bus.ListenerCount() != 0 {
		t.Errorf("expected 0 listeners after RemoveAllListeners, got %d", bus.ListenerCount())
	}
}

func TestListenerCap(t *testing.T) {
	bus := NewBus()
	for i := 0; i < MaxListeners; i++ {
		if id := bus.Subscribe(EventCycleStart, func(Event) {}); id < 0 {
			t.Fatalf("registration %d refused below cap", i)
		}
	}
	if id := bus.Subscribe(EventCycleStart, func(Event) {}); id != -1 {
		t.Errorf("expected registration beyond cap to be refused")
	}
}
