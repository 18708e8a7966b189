package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisQueueConfig struct {
	Addr      string
	Password  string
	DB        int
	DelayKey  string
	Prefix    string
	Retention time.Duration
}

// RedisQueue is the self-hosted delayed-queue backend: message bodies
// live under a key prefix and a ZSET scored by fire time orders them.
// A Dispatcher drains the due set and performs delivery.
type RedisQueue struct {
	client    *redis.Client
	delayKey  string
	prefix    string
	retention time.Duration
}

func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DelayKey == "" {
		cfg.DelayKey = "notify:delayed"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "notify:msg:"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisQueue{
		client:    client,
		delayKey:  cfg.DelayKey,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Publish(ctx context.Context, request PublishRequest) (string, error) {
	message := newMessage(uuid.NewString(), request, time.Now().UTC())
	encoded, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("encode queue message: %w", err)
	}

	ttl := time.Until(message.FireAt) + q.retention
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.prefix+message.ID, encoded, ttl)
	pipe.ZAdd(ctx, q.delayKey, redis.Z{Score: float64(message.FireAt.Unix()), Member: message.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: enqueue delayed message: %v", ErrUpstream, err)
	}
	return message.ID, nil
}

// Requeue restores a claimed message under its original id with a
// fresh fire time, so a delivery whose callback could not be reported
// runs again instead of evaporating.
func (q *RedisQueue) Requeue(ctx context.Context, message Message, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	message.FireAt = time.Now().UTC().Add(delay)
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.prefix+message.ID, encoded, delay+q.retention)
	pipe.ZAdd(ctx, q.delayKey, redis.Z{Score: float64(message.FireAt.Unix()), Member: message.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: requeue message: %v", ErrUpstream, err)
	}
	return nil
}

func (q *RedisQueue) Cancel(ctx context.Context, messageID string) error {
	removed, err := q.client.ZRem(ctx, q.delayKey, messageID).Result()
	if err != nil {
		return fmt.Errorf("%w: cancel message: %v", ErrUpstream, err)
	}
	if removed > 0 {
		_ = q.client.Del(ctx, q.prefix+messageID).Err()
	}
	return nil
}

// ClaimDue atomically takes up to limit due messages off the delay set.
// ZREM is the claim: only the caller that removes the member gets to
// deliver, so multiple dispatchers never fire the same message twice.
func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]Message, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.delayKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: range due messages: %v", ErrUpstream, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.delayKey, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		raw, err := q.client.Get(ctx, q.prefix+id).Bytes()
		if err != nil {
			continue
		}
		_ = q.client.Del(ctx, q.prefix+id).Err()

		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			continue
		}
		messages = append(messages, message)
	}
	return messages, nil
}
