package sinks

import (
	"context"
	"sync"

	"eyefield/server/journal"
)

// MemorySink retains every event. Test helper.
type MemorySink struct {
	mu     sync.RWMutex
	events []journal.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]journal.Event, 0)}
}

func (s *MemorySink) Write(event journal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Events() []journal.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]journal.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}
