package stream

import (
	"context"
	"sync"
	"time"
)

// CaseEvent describes a case lifecycle change for live dashboard feeds.
type CaseEvent struct {
	PlatformID string    `json:"platform_id"`
	RelevantID string    `json:"relevant_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Action     string    `json:"action,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stream fan-outs case events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan CaseEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan CaseEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan CaseEvent {
	ch := make(chan CaseEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt CaseEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
