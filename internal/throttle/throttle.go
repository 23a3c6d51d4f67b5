// Package throttle bounds login attempts per client key. Every attempt is
// counted, successful or not; the limiter measures attempt volume and is
// consulted before the credential check so a slow check cannot dodge it.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one attempt. When Allowed is false, RetryAfter
// says how long until the sliding window admits another attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Attempt(ctx context.Context, key string) (Decision, error)
	Close() error
}

type redisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimiter builds a sliding-window limiter on Redis. The window state
// is a ZSET per key; the Lua script keeps trim, count, add and the
// retry-after computation atomic, so concurrent attempts never undercount.
func NewRedisLimiter(redisURL string, limit int, window time.Duration) (Limiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}, nil
}

// NewRedisLimiterWithClient wires an existing client, used by tests.
func NewRedisLimiterWithClient(client *redis.Client, limit int, window time.Duration) Limiter {
	return &redisLimiter{client: client, limit: int64(limit), window: window}
}

var attemptScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

	local current = redis.call('ZCARD', key)
	if current < limit then
		-- The member carries a nonce so attempts landing in the same
		-- millisecond stay distinct; the score alone orders the window.
		redis.call('ZADD', key, now, now .. '-' .. ARGV[4])
		redis.call('PEXPIRE', key, window)
		return {1, 0}
	end

	-- Blocked: the oldest attempt in the window decides when it rolls.
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = tonumber(oldest[2]) + window - now
	return {0, retry}
`)

var attemptSeq atomic.Int64

func (l *redisLimiter) Attempt(ctx context.Context, key string) (Decision, error) {
	now := time.Now().UnixMilli()

	res, err := attemptScript.Run(ctx, l.client,
		[]string{"throttle:login:" + key},
		now, l.window.Milliseconds(), l.limit, attemptSeq.Add(1),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle check failed: %w", err)
	}

	if len(res) == 2 && res[0] == 1 {
		return Decision{Allowed: true}, nil
	}

	retry := time.Duration(res[1]) * time.Millisecond
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

func (l *redisLimiter) Close() error {
	return l.client.Close()
}

// memoryLimiter is the database-less counterpart for memory mode: a
// per-key list of attempt timestamps behind one mutex.
type memoryLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) Limiter {
	return &memoryLimiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (l *memoryLimiter) Attempt(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.attempts[key] = kept
		retry := kept[0].Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	l.attempts[key] = append(kept, now)
	return Decision{Allowed: true}, nil
}

func (l *memoryLimiter) Close() error {
	return nil
}

// NoOpLimiter always allows, for tests that are not about throttling.
type NoOpLimiter struct{}

func (NoOpLimiter) Attempt(ctx context.Context, key string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (NoOpLimiter) Close() error { return nil }
