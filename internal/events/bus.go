package events

import (
	"sync"
	"time"
)

// EventType identifies the engine lifecycle signals published on the bus.
type EventType string

const (
	EventStarted              EventType = "started"
	EventStopped              EventType = "stopped"
	EventCycleStart           EventType = "cycleStart"
	EventCoinSelected         EventType = "coinSelected"
	EventSpecialistAnalysis   EventType = "specialistAnalysis"
	EventTournamentComplete   EventType = "tournamentComplete"
	EventChampionSelected     EventType = "championSelected"
	EventRiskCouncilDecision  EventType = "riskCouncilDecision"
	EventTradeExecuted        EventType = "tradeExecuted"
	EventCycleComplete        EventType = "cycleComplete"
	EventEmergencyClose       EventType = "emergencyClose"
	EventDebatesComplete      EventType = "debatesComplete"
)

// MaxListeners bounds registrations per event type. High enough that every
// active SSE stream can hold its own set of listeners.
const MaxListeners = 64

// Event is one bus notification.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Listener handles a published event. Listeners run on the publisher's
// goroutine and must not block or mutate shared engine state.
type Listener func(Event)

type registration struct {
	id int
	fn Listener
}

// Bus is a typed in-process publisher. Dispatch is synchronous so that
// events for a cycle are observed in pipeline order.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventType][]registration
	allSubs   []registration
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[EventType][]registration),
	}
}

// Subscribe registers a listener for one event type and returns a handle
// usable with Unsubscribe. Registration beyond MaxListeners is refused
// (handle -1).
func (b *Bus) Subscribe(eventType EventType, fn Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.listeners[eventType]) >= MaxListeners {
		return -1
	}

	b.nextID++
	b.listeners[eventType] = append(b.listeners[eventType], registration{id: b.nextID, fn: fn})
	return b.nextID
}

// SubscribeAll registers a listener for every event type.
func (b *Bus) SubscribeAll(fn Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.allSubs) >= MaxListeners {
		return -1
	}

	b.nextID++
	b.allSubs = append(b.allSubs, registration{id: b.nextID, fn: fn})
	return b.nextID
}

// Unsubscribe removes a listener by handle. Unknown handles are ignored,
// so repeated removal is safe.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for evt, regs := range b.listeners {
		for i, reg := range regs {
			if reg.id == id {
				b.listeners[evt] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
	for i, reg := range b.allSubs {
		if reg.id == id {
			b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
			return
		}
	}
}

// RemoveAllListeners drops every registration. Used by engine cleanup.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[EventType][]registration)
	b.allSubs = nil
}

// ListenerCount returns the total number of registrations across all types.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.allSubs)
	for _, regs := range b.listeners {
		n += len(regs)
	}
	return n
}

// Publish delivers an event to type listeners then all-event listeners,
// in registration order, on the caller's goroutine.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	regs := make([]registration, 0, len(b.listeners[event.Type])+len(b.allSubs))
	regs = append(regs, b.listeners[event.Type]...)
	regs = append(regs, b.allSubs...)
	b.mu.RUnlock()

	for _, reg := range regs {
		reg.fn(event)
	}
}

// Emit publishes an event of the given type with the supplied payload.
func (b *Bus) Emit(eventType EventType, data map[string]interface{}) {
	b.Publish(Event{Type: eventType, Data: data})
}

// EmitCycleStart publishes cycleStart with the cycle number.
func (b *Bus) EmitCycleStart(cycleNumber int) {
	b.Emit(EventCycleStart, map[string]interface{}{"cycleNumber": cycleNumber})
}

// EmitCycleComplete publishes cycleComplete with the finished cycle summary.
func (b *Bus) EmitCycleComplete(cycle interface{}) {
	b.Emit(EventCycleComplete, map[string]interface{}{"cycle": cycle})
}
