package sinks

import (
	"context"
	"sync"

	"github.com/bartektricks/noob-skater-sub000/logging"
)

// MemorySink keeps every event it receives. Tests use it to assert on what a
// hub published.
type MemorySink struct {
	mu     sync.Mutex
	events []logging.Event
	notify chan struct{}
}

func NewMemorySink() *MemorySink {
	return &MemorySink{notify: make(chan struct{})}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	s.events = append(s.events, logging.CloneEvent(event))
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Events() []logging.Event {
	return s.filter(func(logging.Event) bool { return true })
}

// OfType returns the recorded events of one type.
func (s *MemorySink) OfType(eventType logging.EventType) []logging.Event {
	return s.filter(func(e logging.Event) bool { return e.Type == eventType })
}

// ForSession returns the recorded events of one session.
func (s *MemorySink) ForSession(session string) []logging.Event {
	return s.filter(func(e logging.Event) bool { return e.Session == session })
}

// Await blocks until an event of eventType has been recorded or ctx is done.
func (s *MemorySink) Await(ctx context.Context, eventType logging.EventType) (logging.Event, error) {
	for {
		s.mu.Lock()
		for _, event := range s.events {
			if event.Type == eventType {
				s.mu.Unlock()
				return event, nil
			}
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return logging.Event{}, ctx.Err()
		}
	}
}

func (s *MemorySink) filter(keep func(logging.Event) bool) []logging.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []logging.Event
	for _, event := range s.events {
		if keep(event) {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}
