// Package queue is the durable channel between the case coordinator and the
// notification delivery worker. Whatever the backend, the contract is
// at-least-once: a leased message that is neither acked nor retried comes
// back after its lease expires.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"wallo.org/internal/moderation"
)

// Message is one leased notification. Attempts counts deliveries started so
// far, including the one the current lease belongs to.
type Message struct {
	ID       string
	Event    moderation.NotificationEvent
	Attempts int
}

// Queue is the durable work-queue contract. Producers only enqueue;
// consumers lease batches and settle every message with Ack or RetryAfter.
type Queue interface {
	Enqueue(ctx context.Context, evt moderation.NotificationEvent) error
	Lease(ctx context.Context, max int, leaseFor time.Duration) ([]Message, error)
	Ack(ctx context.Context, id string) error
	RetryAfter(ctx context.Context, id string, delay time.Duration) error
}

type memoryEntry struct {
	msg          Message
	deliverAfter time.Time
	leasedUntil  time.Time
}

// Memory implements Queue in process. It backs tests and single-process
// deployments where the api server and the worker share an address space.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (q *Memory) Enqueue(ctx context.Context, evt moderation.NotificationEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.entries[id] = &memoryEntry{
		msg:          Message{ID: id, Event: evt},
		deliverAfter: q.now(),
	}
	return nil
}

func (q *Memory) Lease(ctx context.Context, max int, leaseFor time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var ready []*memoryEntry
	for _, e := range q.entries {
		if !e.deliverAfter.After(now) && !e.leasedUntil.After(now) {
			ready = append(ready, e)
		}
	}
	// Oldest first keeps redelivery roughly ordered per message.
	sort.Slice(ready, func(i, j int) bool { return ready[i].deliverAfter.Before(ready[j].deliverAfter) })
	if len(ready) > max {
		ready = ready[:max]
	}

	out := make([]Message, 0, len(ready))
	for _, e := range ready {
		e.leasedUntil = now.Add(leaseFor)
		e.msg.Attempts++
		out = append(out, e.msg)
	}
	return out, nil
}

func (q *Memory) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

func (q *Memory) RetryAfter(ctx context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil
	}
	e.deliverAfter = q.now().Add(delay)
	e.leasedUntil = time.Time{}
	return nil
}

// Size reports the number of unsettled messages. Test helper.
func (q *Memory) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SetClock overrides the time source. Test helper.
func (q *Memory) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}
