package queue

import (
	"context"
	"testing"
	"time"

	"wallo.org/internal/moderation"
)

func testEvent(action string) moderation.NotificationEvent {
	return moderation.NotificationEvent{
		PlatformID: "plat_abc",
		Case:       moderation.NotificationCase{ID: "c1", Kind: "content"},
		Action:     action,
	}
}

func TestMemoryEnqueueLeaseAck(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	if err := q.Enqueue(ctx, testEvent("publish")); err != nil {
		t.Fatal(err)
	}

	msgs, err := q.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Event.Action != "publish" || msgs[0].Attempts != 1 {
		t.Fatalf("unexpected message: %#v", msgs[0])
	}

	// Leased messages must not be handed out again within the lease window.
	again, err := q.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("leased message redelivered early: %#v", again)
	}

	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue after ack, got %d", q.Size())
	}
}

func TestMemoryLeaseExpiryRedelivers(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	now := time.Now().UTC()
	q.SetClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testEvent("reject")); err != nil {
		t.Fatal(err)
	}
	msgs, err := q.Lease(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected lease, got %d messages", len(msgs))
	}

	// Consumer crashes: the lease expires and the message comes back.
	now = now.Add(31 * time.Second)
	msgs, err = q.Lease(ctx, 1, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected redelivery after lease expiry, got %d", len(msgs))
	}
	if msgs[0].Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", msgs[0].Attempts)
	}
}

func TestMemoryRetryAfterDelays(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	now := time.Now().UTC()
	q.SetClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, testEvent("publish")); err != nil {
		t.Fatal(err)
	}
	msgs, _ := q.Lease(ctx, 1, time.Minute)
	if len(msgs) != 1 {
		t.Fatal("expected one leased message")
	}

	if err := q.RetryAfter(ctx, msgs[0].ID, 60*time.Second); err != nil {
		t.Fatal(err)
	}

	// Not ready before the delay elapses.
	now = now.Add(59 * time.Second)
	if msgs, _ := q.Lease(ctx, 1, time.Minute); len(msgs) != 0 {
		t.Fatalf("message delivered before retry delay: %#v", msgs)
	}

	now = now.Add(2 * time.Second)
	msgs, _ = q.Lease(ctx, 1, time.Minute)
	if len(msgs) != 1 {
		t.Fatal("expected message back after retry delay")
	}
	if msgs[0].Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", msgs[0].Attempts)
	}
}

func TestMemoryBatchIndependence(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	for _, action := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, testEvent(action)); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := q.Lease(ctx, 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(msgs))
	}

	// Settling one message must not affect the others.
	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := q.RetryAfter(ctx, msgs[1].ID, time.Minute); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 2 {
		t.Fatalf("expected 2 unsettled messages, got %d", q.Size())
	}
}
