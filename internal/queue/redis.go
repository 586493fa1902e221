package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"wallo.org/internal/moderation"
)

const defaultKeyPrefix = "wallo:notifications"

type redisPayload struct {
	Event    moderation.NotificationEvent `json:"event"`
	Attempts int                          `json:"attempts"`
}

// Redis implements Queue on a sorted set scored by ready-time. Leasing bumps
// a message's score past the lease window, so a crashed worker's messages
// reappear on their own. The lease bump is not atomic against competing
// consumers; overlapping leases only produce duplicate delivery, which the
// protocol already requires receivers to tolerate.
type Redis struct {
	client    *redis.Client
	readyKey  string
	bodiesKey string
	now       func() time.Time
}

var _ Queue = (*Redis)(nil)

// NewRedis wraps an existing client. keyPrefix may be empty for the default.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Redis{
		client:    client,
		readyKey:  keyPrefix + ":ready",
		bodiesKey: keyPrefix + ":bodies",
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OpenRedis dials redis and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedis(client, ""), nil
}

// Close releases the underlying connection.
func (q *Redis) Close() error { return q.client.Close() }

func (q *Redis) Enqueue(ctx context.Context, evt moderation.NotificationEvent) error {
	id := uuid.NewString()
	body, err := json.Marshal(redisPayload{Event: evt})
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.bodiesKey, id, body)
	pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: score(q.now()), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Redis) Lease(ctx context.Context, max int, leaseFor time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	now := q.now()

	ids, err := q.client.ZRangeByScore(ctx, q.readyKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(score(now), 'f', -1, 64),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		raw, err := q.client.HGet(ctx, q.bodiesKey, id).Result()
		if err == redis.Nil {
			// Body acked by a competing consumer between range and fetch.
			_ = q.client.ZRem(ctx, q.readyKey, id).Err()
			continue
		}
		if err != nil {
			return out, err
		}

		var payload redisPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return out, fmt.Errorf("decode queued notification %s: %w", id, err)
		}
		payload.Attempts++

		body, err := json.Marshal(payload)
		if err != nil {
			return out, err
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.bodiesKey, id, body)
		pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: score(now.Add(leaseFor)), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return out, err
		}

		out = append(out, Message{ID: id, Event: payload.Event, Attempts: payload.Attempts})
	}
	return out, nil
}

func (q *Redis) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.readyKey, id)
	pipe.HDel(ctx, q.bodiesKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Redis) RetryAfter(ctx context.Context, id string, delay time.Duration) error {
	return q.client.ZAdd(ctx, q.readyKey, redis.Z{
		Score:  score(q.now().Add(delay)),
		Member: id,
	}).Err()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
