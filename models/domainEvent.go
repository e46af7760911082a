package models

import (
	"encoding/json"
	"time"
)

// DomainEvent is an in-memory fact raised by an aggregate while its
// transaction is in flight. It is never persisted directly; the outbox row
// written by a dispatcher handler is its durable representation.
type DomainEvent struct {
	EventType     string
	AggregateType string
	AggregateId   string
	BusinessId    string
	OccurredAt    time.Time
	Payload       any
}

func (e DomainEvent) MarshalPayload() ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Payload)
}

// AggregateRoot is implemented by anything the unit of work can track for
// post-commit event dispatch.
type AggregateRoot interface {
	PullEvents() []DomainEvent
}

// EventRecorder is embedded into aggregate roots. Raise appends; PullEvents
// drains exactly once, so a second pull after dispatch returns nothing.
type EventRecorder struct {
	pending []DomainEvent
}

func (r *EventRecorder) Raise(event DomainEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	r.pending = append(r.pending, event)
}

func (r *EventRecorder) PullEvents() []DomainEvent {
	events := r.pending
	r.pending = nil
	return events
}
