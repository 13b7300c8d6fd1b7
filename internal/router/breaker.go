package router

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the operating mode of a per-engine circuit breaker.
type BreakerState int

const (
	// BreakerClosed is the normal state — calls are forwarded to the engine.
	BreakerClosed BreakerState = iota

	// BreakerOpen means the engine tripped on consecutive failures. The
	// router skips it, like an unavailable engine, until the reset timeout
	// elapses.
	BreakerOpen

	// BreakerHalfOpen is the probe state entered after the reset timeout. A
	// bounded number of calls are admitted; if they all succeed the breaker
	// closes, otherwise it re-opens.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for the per-engine circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// half-open probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. That many
	// successful probes close the breaker; any failure re-opens it.
	// Default: 3.
	HalfOpenMax int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	return c
}

// breaker is a consecutive-failure circuit breaker guarding one engine.
//
// Unlike a wrapping breaker it does not execute the call itself: the router
// asks allow before dialing an engine and reports the classified outcome
// with success or failure afterwards. Only transient and fatal engine errors
// feed failure; user-input errors never trip a breaker.
//
// Safe for concurrent use.
type breaker struct {
	engine       string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int

	now func() time.Time
}

func newBreaker(engineID string, cfg BreakerConfig) *breaker {
	cfg = cfg.withDefaults()
	return &breaker{
		engine:       engineID,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        BreakerClosed,
		now:          time.Now,
	}
}

// allow reports whether the engine may be called. An open breaker whose
// reset timeout has elapsed transitions to half-open here; each permitted
// half-open call consumes one probe slot, so callers must follow every
// true result with a success or failure report.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		slog.Info("router: circuit breaker half-open", "engine", b.engine)

	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			// Probe budget spent — stay open until the probes report back.
			return false
		}
	}

	if b.state == BreakerHalfOpen {
		b.halfOpenCalls++
	}
	return true
}

// success reports a completed call. Enough successful half-open probes close
// the breaker. A success landing while the breaker is open (a straggler call
// admitted before the trip) changes nothing; re-entry is governed by the
// reset timeout.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		if b.halfOpenCalls-b.halfOpenFails >= b.halfOpenMax {
			b.state = BreakerClosed
			b.consecutiveFail = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("router: circuit breaker closed after successful probes",
				"engine", b.engine)
		}
	case BreakerClosed:
		b.consecutiveFail = 0
	}
}

// failure reports a failed call. Any failure during half-open re-opens
// immediately.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen {
		b.halfOpenFails++
		b.state = BreakerOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("router: circuit breaker re-opened from half-open",
			"engine", b.engine)
		return
	}

	b.consecutiveFail++
	if b.state == BreakerClosed && b.consecutiveFail >= b.maxFailures {
		b.state = BreakerOpen
		slog.Warn("router: circuit breaker opened",
			"engine", b.engine,
			"consecutive_failures", b.consecutiveFail)
	}
}

// currentState returns the state the breaker would be in if consulted now.
// An open breaker past its reset timeout reports half-open; the actual
// transition happens on the next allow call.
func (b *breaker) currentState() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// reset forces the breaker closed and clears all counters.
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFail = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
}
