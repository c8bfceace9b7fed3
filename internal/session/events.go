package session

import (
	"sync"
	"time"
)

// EventType names something that happened to a session.
type EventType string

const (
	EventTitleProposed         EventType = "title_proposed"
	EventTitleRejected         EventType = "title_rejected"
	EventStoryPersisted        EventType = "story_persisted"
	EventIllustrationPersisted EventType = "illustration_persisted"
	EventTransitionFailed      EventType = "transition_failed"
	EventSessionReset          EventType = "session_reset"
)

// Event is published by a Machine after a transition commits or fails.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Step      Step
	Data      map[string]string
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus fans events out to subscribers synchronously, in subscription
// order.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Handlers run without the lock so they may subscribe in turn.
	eb.mu.RLock()
	handlers := append([]EventHandler(nil), eb.handlers[event.Type]...)
	handlers = append(handlers, eb.allHandlers...)
	eb.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
