// Package ratelimit enforces per-principal request budgets.
//
// A principal is whatever identity string the boundary hands the
// orchestrator: a Telegram user id, an API key's user id, or a remote
// address for anonymous calls. The memory limiter is a classic token
// bucket with continuous refill; the Redis limiter is a fixed-window
// counter for deployments where several instances share one budget.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is the port consumed by the orchestrator.
type Limiter interface {
	// Allow reports whether principal may proceed. When denied,
	// retryAfter estimates how long until the next token.
	Allow(ctx context.Context, principal string) (ok bool, retryAfter time.Duration)
}

// Config sizes a bucket.
type Config struct {
	// Capacity is the burst size in tokens.
	Capacity float64

	// RefillPerSec is the sustained rate in tokens per second.
	RefillPerSec float64
}

// PerMinute builds a Config allowing rpm requests per minute with a burst
// of the same size.
func PerMinute(rpm int) Config {
	return Config{
		Capacity:     float64(rpm),
		RefillPerSec: float64(rpm) / 60,
	}
}

const (
	// Idle buckets older than this are dropped on the next sweep.
	bucketIdleMax = 10 * time.Minute
	sweepInterval = time.Minute
)

// Memory is the in-process token-bucket limiter. Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	capacity  float64
	refill    float64
	lastSweep time.Time

	now func() time.Time // stubbed in tests
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewMemory constructs the in-process limiter.
func NewMemory(cfg Config) *Memory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.RefillPerSec <= 0 {
		cfg.RefillPerSec = cfg.Capacity / 60
	}
	return &Memory{
		buckets:  make(map[string]*bucket),
		capacity: cfg.Capacity,
		refill:   cfg.RefillPerSec,
		now:      time.Now,
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, principal string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeSweepLocked(now)

	b, ok := m.buckets[principal]
	if !ok {
		b = &bucket{tokens: m.capacity, last: now}
		m.buckets[principal] = b
	} else {
		elapsed := now.Sub(b.last).Seconds()
		if elapsed > 0 {
			b.tokens += elapsed * m.refill
			if b.tokens > m.capacity {
				b.tokens = m.capacity
			}
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / m.refill * float64(time.Second))
	return false, wait
}

// maybeSweepLocked drops buckets idle past bucketIdleMax so one-off
// principals do not accumulate forever.
func (m *Memory) maybeSweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for key, b := range m.buckets {
		if now.Sub(b.last) > bucketIdleMax {
			delete(m.buckets, key)
		}
	}
}

var _ Limiter = (*Memory)(nil)
