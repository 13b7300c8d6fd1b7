package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisLimitPrefix = "ttskit:ratelimit:"

	// redisLimitTimeout bounds every limiter call. A slow or dead Redis
	// degrades to allow; the limiter must never become the outage.
	redisLimitTimeout = 150 * time.Millisecond
)

// RedisOption is a functional option for the Redis limiter.
type RedisOption func(*Redis)

// WithRedisPrefix overrides the key namespace.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// Redis is a fixed-window limiter shared across instances: one INCR+EXPIRE
// counter per (principal, window).
type Redis struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration

	now func() time.Time // stubbed in tests
}

// NewRedis constructs the shared limiter allowing limit requests per
// window.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Redis{
		client: client,
		prefix: defaultRedisLimitPrefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, principal string) (bool, time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, redisLimitTimeout)
	defer cancel()

	now := r.now()
	windowID := now.UnixNano() / int64(r.window)
	key := r.prefix + principal + ":" + strconv.FormatInt(windowID, 10)

	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("ratelimit: redis unavailable, allowing request", "principal", principal, "err", err)
		return true, 0
	}
	if n == 1 {
		// First hit in this window; the key must not outlive it.
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			slog.Warn("ratelimit: setting window expiry failed", "key", key, "err", err)
		}
	}
	if n > r.limit {
		elapsed := time.Duration(now.UnixNano() % int64(r.window))
		return false, r.window - elapsed
	}
	return true, 0
}

var _ Limiter = (*Redis)(nil)
