// Package notifier drains the notification queue: every resolved case is
// pushed to its platform's webhook until the platform acknowledges it with a
// 2xx, the platform disappears, or the attempt budget runs out.
package notifier

import (
	"context"
	"errors"
	"time"

	"wallo.org/internal/audit"
	"wallo.org/internal/moderation"
	"wallo.org/internal/obs"
	"wallo.org/internal/queue"
)

// PlatformLookup resolves the platform's current callback URL and secret.
// Rotation takes effect mid-flight: a retried message always uses the
// freshest credentials.
type PlatformLookup interface {
	PlatformByID(ctx context.Context, id string) (moderation.Platform, error)
}

// ProtocolClient is the delivery half of the platform protocol.
type ProtocolClient interface {
	InformPlatformOfAction(ctx context.Context, endpoint, secret string, kind moderation.Kind, relevantID, actionID string) error
}

const (
	defaultInterval    = 5 * time.Second
	defaultLease       = 2 * time.Minute
	defaultRetryDelay  = 60 * time.Second
	defaultBatchSize   = 10
	defaultMaxAttempts = 100
)

// Worker consumes notification messages with at-least-once semantics.
// Messages in a batch are settled independently; one platform's outage never
// blocks another's acknowledgment.
type Worker struct {
	queue     queue.Queue
	platforms PlatformLookup
	client    ProtocolClient

	Interval    time.Duration
	LeaseFor    time.Duration
	RetryDelay  time.Duration
	BatchSize   int
	MaxAttempts int
}

// NewWorker creates a worker with the default cadence: 10-message batches
// every 5s, 60s retry delay, 100 attempts before a message is dropped.
func NewWorker(q queue.Queue, platforms PlatformLookup, client ProtocolClient) *Worker {
	return &Worker{
		queue:       q,
		platforms:   platforms,
		client:      client,
		Interval:    defaultInterval,
		LeaseFor:    defaultLease,
		RetryDelay:  defaultRetryDelay,
		BatchSize:   defaultBatchSize,
		MaxAttempts: defaultMaxAttempts,
	}
}

// Run processes batches until the context ends.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				logWorker("warn", "lease_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// ProcessBatch leases up to BatchSize messages and settles each one. It
// returns the number of leased messages.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := w.queue.Lease(ctx, w.BatchSize, w.LeaseFor)
	if err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		w.handle(ctx, msg)
	}
	return len(msgs), nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	platform, err := w.platforms.PlatformByID(ctx, msg.Event.PlatformID)
	if errors.Is(err, moderation.ErrNotFound) {
		// A deleted platform cannot receive notifications; redelivery
		// cannot help, so drop.
		obs.NotificationsDropped.Inc()
		_ = audit.LogEvent(ctx, "notification.dropped", map[string]any{
			"platform_id": msg.Event.PlatformID,
			"case_id":     msg.Event.Case.ID,
			"reason":      "unknown_platform",
		})
		w.settle(ctx, msg.ID, true)
		return
	}
	if err != nil {
		// Store hiccup: redeliver later, the message stays owned by the queue.
		w.settle(ctx, msg.ID, false)
		return
	}

	kind, err := moderation.ParseKind(msg.Event.Case.Kind)
	if err != nil {
		obs.NotificationsDropped.Inc()
		_ = audit.LogEvent(ctx, "notification.dropped", map[string]any{
			"platform_id": msg.Event.PlatformID,
			"case_id":     msg.Event.Case.ID,
			"reason":      "invalid_kind",
		})
		w.settle(ctx, msg.ID, true)
		return
	}

	err = w.client.InformPlatformOfAction(ctx, platform.CallbackURL, platform.Secret, kind, msg.Event.Case.ID, msg.Event.Action)
	if err == nil {
		obs.NotificationsDelivered.Inc()
		w.settle(ctx, msg.ID, true)
		return
	}

	if msg.Attempts >= w.MaxAttempts {
		obs.NotificationsDropped.Inc()
		_ = audit.LogEvent(ctx, "notification.dropped", map[string]any{
			"platform_id": msg.Event.PlatformID,
			"case_id":     msg.Event.Case.ID,
			"attempts":    msg.Attempts,
			"reason":      "attempts_exhausted",
			"error":       err.Error(),
		})
		w.settle(ctx, msg.ID, true)
		return
	}

	obs.NotificationsRetried.Inc()
	logWorker("warn", "delivery_failed", map[string]any{
		"platform_id": msg.Event.PlatformID,
		"case_id":     msg.Event.Case.ID,
		"attempts":    msg.Attempts,
		"error":       err.Error(),
	})
	w.settle(ctx, msg.ID, false)
}

// settle acks or reschedules. Settlement failures are logged and left to the
// lease: an unsettled message simply reappears after LeaseFor.
func (w *Worker) settle(ctx context.Context, id string, ack bool) {
	var err error
	if ack {
		err = w.queue.Ack(ctx, id)
	} else {
		err = w.queue.RetryAfter(ctx, id, w.RetryDelay)
	}
	if err != nil {
		logWorker("error", "settle_failed", map[string]any{"message_id": id, "error": err.Error()})
	}
}

func logWorker(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   "notifier_" + msg,
	}
	for k, v := range fields {
		entry[k] = v
	}
	obs.LogRequest(entry)
}
