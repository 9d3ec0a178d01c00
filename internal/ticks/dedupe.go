package ticks

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DedupeStore answers whether a given topic's tick id has already been
// recorded, and lets a caller record one. It exists so more than one
// barwatch process polling the same topic can share an idempotency
// boundary beyond each process's own in-memory Store.
type DedupeStore interface {
	SeenTick(ctx context.Context, topic, tickID string) (bool, error)
	RememberTick(ctx context.Context, topic, tickID string, ttl time.Duration) error
}

// noopDedupeStore always reports a miss; used when no distributed dedupe
// backend is configured, deferring entirely to the in-process Store's own
// per-topic id index.
type noopDedupeStore struct{}

func (noopDedupeStore) SeenTick(ctx context.Context, topic, tickID string) (bool, error) {
	return false, nil
}

func (noopDedupeStore) RememberTick(ctx context.Context, topic, tickID string, ttl time.Duration) error {
	return nil
}

// RedisDedupeStore is a Redis-backed DedupeStore, for deployments running
// more than one barwatch process against the same topics. Every id is
// namespaced under "barwatch:ticks:" so the keyspace can be shared safely
// with other uses of the same Redis instance.
type RedisDedupeStore struct {
	client *redis.Client
}

// NewRedisDedupeStore connects to addr (e.g. "localhost:6379") and pings it
// to validate the connection before returning.
func NewRedisDedupeStore(addr string) (*RedisDedupeStore, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ticks: connecting to redis dedupe store: %w", err)
	}
	return &RedisDedupeStore{client: c}, nil
}

func tickKey(topic, tickID string) string {
	return "barwatch:ticks:" + topic + ":" + tickID
}

// SeenTick reports whether tickID has already been recorded for topic.
func (r *RedisDedupeStore) SeenTick(ctx context.Context, topic, tickID string) (bool, error) {
	_, err := r.client.Get(ctx, tickKey(topic, tickID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ticks: redis dedupe get: %w", err)
	}
	return true, nil
}

// RememberTick records topic/tickID as seen, expiring after ttl.
func (r *RedisDedupeStore) RememberTick(ctx context.Context, topic, tickID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, tickKey(topic, tickID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("ticks: redis dedupe set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisDedupeStore) Close() error {
	return r.client.Close()
}
