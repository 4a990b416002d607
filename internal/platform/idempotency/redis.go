package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "elvora:idem:"

// RedisStore keeps entries as JSON strings whose Redis TTL matches the entry expiry, so Purge is a no-op.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	ttl = normaliseTTL(ttl)
	fresh := Entry{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(fresh)
	if err != nil {
		return 0, Entry{}, err
	}
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, payload, ttl).Result()
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: redis claim: %w", err)
	}
	if ok {
		return StateClaimed, fresh, nil
	}

	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the next retry claims it.
		return StateInFlight, fresh, nil
	}
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: redis read: %w", err)
	}
	var existing Entry
	if err := json.Unmarshal(raw, &existing); err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	state, entry, write, err := claim(&existing, fingerprint, now, ttl)
	if err != nil || !write {
		return state, entry, err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: redis claim: %w", err)
	}
	return state, entry, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, entry Entry) error {
	entry.Done = true
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis complete: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release: %w", err)
	}
	return nil
}

func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }
