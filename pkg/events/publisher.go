// Package events carries session lifecycle notifications out of the hub
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

// Define event types
const (
	EventSessionCreated   EventType = "session.created"
	EventSessionStarted   EventType = "session.started"
	EventSeatAssigned     EventType = "seat.assigned"
	EventMoveApplied      EventType = "move.applied"
	EventSessionEnded     EventType = "session.ended"
	EventSessionRemoved   EventType = "session.removed"
	EventMatchMade        EventType = "match.made"
	EventConnectionClosed EventType = "connection.closed"

	allEvents EventType = "*"
)

// Event represents an event in the system
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"` // Empty for non-session events
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler is a function that processes events
type Handler func(event Event)

// Publisher is the central event publisher. Handlers run on their own
// goroutines so a slow subscriber never stalls the hub loop.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
}

// NewPublisher creates a new event publisher
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a specific event type
func (p *Publisher) Subscribe(eventType EventType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers[eventType] = append(p.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (p *Publisher) SubscribeAll(handler Handler) {
	p.Subscribe(allEvents, handler)
}

// Publish broadcasts an event to the subscribers of its type and to the
// catch-all subscribers. A nil publisher drops the event.
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	handlers := p.subscribers[event.Type]
	allHandlers := p.subscribers[allEvents]
	p.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}

	for _, handler := range allHandlers {
		go handler(event)
	}
}
