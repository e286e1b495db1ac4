package events

import "github.com/alexisbeaulieu97/tuner/internal/ports"

// Event is the concrete ports.DomainEvent emitted by the engine.
type Event struct {
	Type string
	Data map[string]interface{}
}

// New builds an event with a flat key/value payload.
func New(eventType string, data map[string]interface{}) Event {
	return Event{Type: eventType, Data: data}
}

// EventType implements ports.DomainEvent.
func (e Event) EventType() string { return e.Type }

// Payload implements ports.DomainEvent.
func (e Event) Payload() interface{} { return e.Data }

var _ ports.DomainEvent = Event{}
