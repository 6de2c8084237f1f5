package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
	Typed     EventData              `json:"-"`
}

// Handler receives events. Handlers run synchronously on the emitter's
// goroutine; a panic or error is logged and swallowed.
type Handler func(Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus fans events out to subscribers in FIFO registration order.
// Emitting never fails the producer.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType][]subscription
	log    zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for an event type and returns an id for
// Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[eventType] = append(b.subs[eventType], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes a handler by subscription id.
func (b *Bus) Unsubscribe(eventType EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// ClearAll removes every subscription. Intended for test isolation.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[EventType][]subscription)
}

// Emit dispatches an event synchronously to every subscriber registered
// for its type, in registration order.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	b.dispatch(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	})
}

// EmitTyped dispatches an event carrying a typed payload.
func (b *Bus) EmitTyped(eventType EventType, module string, data EventData) {
	b.dispatch(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Typed:     data,
	})
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[event.Type]))
	copy(subs, b.subs[event.Type])
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event subscriber panicked")
		}
	}()
	s.handler(event)
}
