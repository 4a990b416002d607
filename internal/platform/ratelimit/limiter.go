package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether key may make another request now.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision carries the outcome and, when denied, how long to wait.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// MemoryLimiter keeps a token bucket per key in process. Idle buckets are dropped after the
// window so the map does not grow without bound.
type MemoryLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewMemoryLimiter allows perMinute requests per key with bursts up to burst.
func NewMemoryLimiter(perMinute, burst int, clock func() time.Time) (*MemoryLimiter, error) {
	if perMinute <= 0 {
		return nil, fmt.Errorf("ratelimit: perMinute must be positive, got %d", perMinute)
	}
	if burst <= 0 {
		burst = perMinute
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		idle:    time.Minute * 10,
		now:     clock,
		buckets: make(map[string]*bucket),
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	reservation := b.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// RedisLimiter counts requests per key in fixed one-minute windows shared by every instance.
type RedisLimiter struct {
	client    redis.UniversalClient
	perMinute int64
	prefix    string
	now       func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, name string, perMinute int, clock func() time.Time) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("ratelimit: redis client is required")
	}
	if perMinute <= 0 {
		return nil, fmt.Errorf("ratelimit: perMinute must be positive, got %d", perMinute)
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisLimiter{
		client:    client,
		perMinute: int64(perMinute),
		prefix:    "elvora:rl:" + strings.TrimSpace(name) + ":",
		now:       clock,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now().UTC()
	window := now.Truncate(time.Minute)
	redisKey := l.prefix + key + ":" + strconv.FormatInt(window.Unix(), 10)

	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, 2*time.Minute)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count.Val() > l.perMinute {
		return Decision{RetryAfter: window.Add(time.Minute).Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
