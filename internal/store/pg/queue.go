package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"wallo.org/internal/moderation"
	"wallo.org/internal/queue"
)

// NotificationQueue implements the delivery queue on the notifications table.
// Leasing uses FOR UPDATE SKIP LOCKED so several workers can drain the same
// table without handing out the same message twice within a lease window.
type NotificationQueue struct {
	db *sql.DB
}

var _ queue.Queue = (*NotificationQueue)(nil)

// NewNotificationQueue builds a queue over an open handle, typically the same
// one backing the Store.
func NewNotificationQueue(db *sql.DB) *NotificationQueue {
	return &NotificationQueue{db: db}
}

func (q *NotificationQueue) Enqueue(ctx context.Context, evt moderation.NotificationEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		insert into notifications(id, payload, attempts, deliver_after, leased_until, created_at)
		values ($1, $2, 0, now(), null, now())
	`, uuid.NewString(), payload)
	return err
}

func (q *NotificationQueue) Lease(ctx context.Context, max int, leaseFor time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 1
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		update notifications
		set attempts = attempts + 1,
		    leased_until = now() + make_interval(secs => $2)
		where id in (
			select id from notifications
			where deliver_after <= now()
			  and (leased_until is null or leased_until <= now())
			order by deliver_after
			limit $1
			for update skip locked
		)
		returning id, payload, attempts
	`, max, leaseFor.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Message
	for rows.Next() {
		var (
			id       string
			payload  []byte
			attempts int
		)
		if err := rows.Scan(&id, &payload, &attempts); err != nil {
			return nil, err
		}
		var evt moderation.NotificationEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, err
		}
		out = append(out, queue.Message{ID: id, Event: evt, Attempts: attempts})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *NotificationQueue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `delete from notifications where id = $1`, id)
	return err
}

func (q *NotificationQueue) RetryAfter(ctx context.Context, id string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		update notifications
		set deliver_after = now() + make_interval(secs => $2),
		    leased_until = null
		where id = $1
	`, id, delay.Seconds())
	return err
}
