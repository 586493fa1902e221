package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"wallo.org/internal/ids"
	"wallo.org/internal/obs"
	"wallo.org/internal/stream"
)

// ProtocolClient is the outbound half of the platform protocol as the
// coordinator needs it.
type ProtocolClient interface {
	InformPlatformOfAction(ctx context.Context, endpoint, secret string, kind Kind, relevantID, actionID string) error
}

// Enqueuer accepts notification events for guaranteed asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, evt NotificationEvent) error
}

const syncPushTimeout = 5 * time.Second

// Coordinator applies moderator activity to cases. The durable order is
// fixed: the action record is written first, the notification is enqueued
// second, and only then is the synchronous webhook push attempted and the
// case resolved. The queue is the delivery source of truth; the synchronous
// push is a latency optimization whose failures are swallowed.
type Coordinator struct {
	store   Store
	client  ProtocolClient
	queue   Enqueuer
	events  *stream.Stream
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

// NewCoordinator wires the coordinator. events may be nil when no live feed
// is attached (e.g. the notifier worker process).
func NewCoordinator(store Store, client ProtocolClient, queue Enqueuer, events *stream.Stream) *Coordinator {
	return &Coordinator{
		store:  store,
		client: client,
		queue:  queue,
		events: events,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "platform-sync-push",
			Timeout: 30 * time.Second,
		}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// OpenCase registers an unresolved case for the given subject together with
// the system "requestPublication" action. A duplicate tuple is an idempotent
// no-op: platforms deliver over HTTP and may repeat themselves.
func (c *Coordinator) OpenCase(ctx context.Context, platformID, relevantID string, kind Kind) error {
	now := c.now()
	err := c.store.CreateCase(ctx, Case{
		PlatformID: platformID,
		RelevantID: relevantID,
		Kind:       kind,
		Status:     StatusUnresolved,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create case: %w", err)
	}

	if err := c.store.AppendAction(ctx, Action{
		ID:         ids.New(),
		PlatformID: platformID,
		RelevantID: relevantID,
		Kind:       kind,
		CreatedAt:  now,
		Payload:    ActionPayload{Kind: PayloadRequestPublication},
	}); err != nil {
		return fmt.Errorf("append system action: %w", err)
	}

	c.publish(platformID, relevantID, kind, StatusUnresolved, "")
	return nil
}

// ApplyAction records a moderator decision, guarantees its delivery to the
// platform and resolves the case.
func (c *Coordinator) ApplyAction(ctx context.Context, ref CaseRef, authorID string, decision Decision) error {
	cs, err := c.store.CaseByRef(ctx, ref)
	if err != nil {
		return err
	}
	if cs.Status == StatusResolved {
		return ErrCaseResolved
	}

	platform, err := c.store.PlatformByID(ctx, ref.PlatformID)
	if err != nil {
		return err
	}

	display := decision.Display
	if display == "" {
		display = decision.ID
	}

	// The action history is authoritative even if delivery ultimately fails,
	// so this write must complete before any network call.
	if err := c.store.AppendAction(ctx, Action{
		ID:         ids.New(),
		PlatformID: ref.PlatformID,
		RelevantID: ref.RelevantID,
		Kind:       ref.Kind,
		AuthorID:   authorID,
		CreatedAt:  c.now(),
		Payload:    ActionPayload{Kind: PayloadCustom, ID: decision.ID, Display: display},
	}); err != nil {
		return fmt.Errorf("append action: %w", err)
	}

	if err := c.queue.Enqueue(ctx, NotificationEvent{
		PlatformID: ref.PlatformID,
		Case:       NotificationCase{ID: ref.RelevantID, Kind: string(ref.Kind)},
		Action:     decision.ID,
	}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	c.syncPush(ctx, platform, ref, decision.ID)

	if err := c.store.ResolveCase(ctx, ref); err != nil {
		return fmt.Errorf("resolve case: %w", err)
	}

	c.publish(ref.PlatformID, ref.RelevantID, ref.Kind, StatusResolved, decision.ID)
	return nil
}

// ApplyComment appends a comment to the case history. Comments do not touch
// case status and are not delivered to the platform.
func (c *Coordinator) ApplyComment(ctx context.Context, ref CaseRef, authorID, text string) error {
	if _, err := c.store.CaseByRef(ctx, ref); err != nil {
		return err
	}
	return c.store.AppendAction(ctx, Action{
		ID:         ids.New(),
		PlatformID: ref.PlatformID,
		RelevantID: ref.RelevantID,
		Kind:       ref.Kind,
		AuthorID:   authorID,
		CreatedAt:  c.now(),
		Payload:    ActionPayload{Kind: PayloadComment, Text: text},
	})
}

// NextCase returns the oldest unresolved case for the platform, excluding the
// one the moderator is currently looking at. It backs both "skip" (no action
// recorded) and "continue" (after a recorded action).
func (c *Coordinator) NextCase(ctx context.Context, platformID string, current *CaseRef) (Case, error) {
	cases, err := c.store.UnresolvedCases(ctx, platformID, 2)
	if err != nil {
		return Case{}, err
	}
	for _, cs := range cases {
		if current != nil && cs.Ref() == *current {
			continue
		}
		return cs, nil
	}
	return Case{}, ErrNotFound
}

// syncPush performs the best-effort synchronous delivery. Failures fall back
// to the queue, so they are counted and logged but never propagated.
func (c *Coordinator) syncPush(ctx context.Context, platform Platform, ref CaseRef, actionID string) {
	_, err := c.breaker.Execute(func() (any, error) {
		pushCtx, cancel := context.WithTimeout(ctx, syncPushTimeout)
		defer cancel()
		return nil, c.client.InformPlatformOfAction(pushCtx, platform.CallbackURL, platform.Secret, ref.Kind, ref.RelevantID, actionID)
	})
	if err != nil {
		obs.SyncPushFailures.Inc()
		obs.LogRequest(map[string]any{
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
			"level":       "warn",
			"msg":         "sync_push_failed",
			"platform_id": platform.ID,
			"error":       err.Error(),
		})
	}
}

func (c *Coordinator) publish(platformID, relevantID string, kind Kind, status CaseStatus, actionID string) {
	if c.events == nil {
		return
	}
	c.events.Publish(stream.CaseEvent{
		PlatformID: platformID,
		RelevantID: relevantID,
		Kind:       string(kind),
		Status:     string(status),
		Action:     actionID,
		Timestamp:  c.now(),
	})
}
