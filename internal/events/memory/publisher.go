// Package memory collects published events in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one captured publication.
type Event struct {
	Topic   string
	Payload any
}

// Publisher records events instead of sending them anywhere.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

// NewPublisher creates an empty in-memory publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", len(p.events)), nil
}

// Events returns a snapshot of captured events.
func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
