package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/ttskit/ttskit/pkg/types"
)

const (
	defaultRedisPrefix = "ttskit:cache:"

	// redisOpTimeout bounds every cache call so a dead Redis degrades to
	// a miss instead of stalling synthesis.
	redisOpTimeout = 500 * time.Millisecond
)

// RedisOption is a functional option for the Redis cache.
type RedisOption func(*Redis)

// WithRedisTTL sets the server-side expiry for stored artifacts.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithRedisPrefix overrides the key namespace.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// Redis is the shared cache backend for multi-instance deployments.
// Artifacts are gob-encoded under a key prefix with server-side TTL; size
// budgeting is delegated to Redis' own maxmemory policy. Every failure
// degrades to a cache miss.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	flight singleflight.Group
}

// NewRedis wraps an already-connected client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    defaultTTL,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key(fp string) string { return r.prefix + fp }

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, fp string) (types.AudioArtifact, bool) {
	art, ok := r.lookup(ctx, fp)
	if ok {
		r.hits.Add(1)
	} else {
		r.misses.Add(1)
	}
	return art, ok
}

func (r *Redis) lookup(ctx context.Context, fp string) (types.AudioArtifact, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key(fp)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache: redis get failed", "err", err)
		}
		return types.AudioArtifact{}, false
	}

	var art types.AudioArtifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&art); err != nil {
		slog.Warn("cache: corrupt redis entry dropped", "key", r.key(fp), "err", err)
		r.client.Del(context.WithoutCancel(ctx), r.key(fp))
		return types.AudioArtifact{}, false
	}
	return art, true
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, fp string, art types.AudioArtifact) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(art); err != nil {
		slog.Warn("cache: gob encode failed", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(fp), buf.Bytes(), r.ttl).Err(); err != nil {
		slog.Warn("cache: redis set failed", "err", err)
	}
}

// GetOrCompute implements Cache. The flight is local to this process;
// cross-instance duplicate computes are possible and acceptable.
func (r *Redis) GetOrCompute(ctx context.Context, fp string, compute func(ctx context.Context) (types.AudioArtifact, error)) (types.AudioArtifact, error) {
	// Pre-check without touching hit/miss counters: the orchestrator has
	// already recorded this lookup through Get.
	if art, ok := r.lookup(ctx, fp); ok {
		return art, nil
	}
	v, err, _ := r.flight.Do(fp, func() (any, error) {
		if art, ok := r.lookup(ctx, fp); ok {
			return art, nil
		}
		art, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		r.Put(ctx, fp, art)
		return art, nil
	})
	if err != nil {
		return types.AudioArtifact{}, err
	}
	return v.(types.AudioArtifact), nil
}

// Clear implements Cache. Keys are removed by prefix scan; the instance
// never flushes databases it shares with other tenants.
func (r *Redis) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Stats implements Cache. Hit and miss counters are process-local; the
// entry count is scanned from the server. Sizes are not tracked — memory
// accounting belongs to Redis itself.
func (r *Redis) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entries := 0
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			slog.Warn("cache: redis scan failed", "err", err)
			break
		}
		entries += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}

	hits, misses := r.hits.Load(), r.misses.Load()
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Entries: entries,
		HitRate: hitRate(hits, misses),
	}
}

var _ Cache = (*Redis)(nil)
