package testhelpers

import (
	"encoding/json"
	"sync"

	"github.com/Tyrowin/roomchat/internal/realtime"
)

// RecordedEvent is an outbound event captured by a RecordingSink with its
// data left undecoded.
type RecordedEvent struct {
	Type realtime.EventType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

// RecordingSink is a realtime.Sink that stores every payload it accepts.
// Setting Reject makes every Send fail.
type RecordingSink struct {
	mu     sync.Mutex
	events []RecordedEvent
	Reject bool
}

// Send implements realtime.Sink.
func (s *RecordingSink) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Reject {
		return false
	}
	var ev RecordedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

// Events returns a copy of the recorded events.
func (s *RecordingSink) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedEvent(nil), s.events...)
}

// Count returns how many events of typ were recorded.
func (s *RecordingSink) Count(typ realtime.EventType) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// Last decodes the data of the most recent event of typ into v and reports
// whether one was found.
func (s *RecordingSink) Last(typ realtime.EventType, v any) bool {
	events := s.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return json.Unmarshal(events[i].Data, v) == nil
		}
	}
	return false
}

// Reset drops all recorded events.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
