package memory

import (
	"context"
	"sync"

	"github.com/archon-research/dca/internal/ports/outbound"
)

var _ outbound.EventSink = (*EventSink)(nil)

// EventSink stores published events in memory for tests and local runs.
type EventSink struct {
	mu     sync.RWMutex
	events []outbound.Event
	closed bool
}

// NewEventSink creates an empty in-memory event sink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

// Publish stores the event. Events published after Close are dropped.
func (s *EventSink) Publish(_ context.Context, event outbound.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.events = append(s.events, event)
	return nil
}

// Close marks the sink as closed.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns all published events.
func (s *EventSink) Events() []outbound.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbound.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ExecutionEvents returns published ExecutionRecordedEvents in order.
func (s *EventSink) ExecutionEvents() []outbound.ExecutionRecordedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbound.ExecutionRecordedEvent
	for _, e := range s.events {
		if ev, ok := e.(outbound.ExecutionRecordedEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}
