package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// MemorySink is a deterministic in-memory sink used by tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]Event, 0, 64)}
}

// Export appends an event in memory.
func (s *MemorySink) Export(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all exported events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Logs returns exported log events matching a name, or all logs when name
// is empty.
func (s *MemorySink) Logs(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, event := range s.events {
		if event.Kind != EventKindLog || event.Log == nil {
			continue
		}
		if name != "" && event.Log.Name != name {
			continue
		}
		out = append(out, event)
	}
	return out
}

// JSONLineSink writes one JSON object per event to a writer. It is the
// runtime sink for cmd binaries, pointed at stderr.
type JSONLineSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONLineSink wraps a writer as a telemetry sink.
func NewJSONLineSink(out io.Writer) *JSONLineSink {
	return &JSONLineSink{out: out}
}

// Export encodes the event as a single JSON line.
func (s *JSONLineSink) Export(_ context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(raw); err != nil {
		return err
	}
	_, err = s.out.Write([]byte("\n"))
	return err
}
