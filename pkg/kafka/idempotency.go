package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore deduplicates event processing. MarkProcessed returns
// true only for the first caller of a given event ID.
type IdempotencyStore interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}

// RedisIdempotencyStore tracks processed events in Redis with a TTL.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
func NewRedisIdempotencyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) key(eventID string) string {
	return fmt.Sprintf("%s:processed:%s", s.prefix, eventID)
}

// MarkProcessed atomically claims the event ID via SETNX.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(eventID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return ok, nil
}

// IsProcessed reports whether the event ID has already been claimed.
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check event processed: %w", err)
	}
	return n > 0, nil
}

// MemoryIdempotencyStore is an in-process store for development and tests.
// Entries expire lazily on access.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory idempotency store.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (s *MemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	if exp, ok := s.seen[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[eventID] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryIdempotencyStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.seen[eventID]
	if !ok {
		return false, nil
	}
	if s.nowFunc().After(exp) {
		delete(s.seen, eventID)
		return false, nil
	}
	return true, nil
}
