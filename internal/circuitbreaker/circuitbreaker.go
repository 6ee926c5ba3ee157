// Package circuitbreaker implements per-model failure isolation. A breaker
// trips after a run of consecutive countable failures and short-circuits
// requests to a known-bad model, reducing failover latency from seconds
// (timeout + network) to nanoseconds (state check).
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // consecutive failures to trip
	Cooldown         time.Duration // time in OPEN before a probe is allowed
	CooldownMax      time.Duration // backoff cap for repeated reopen cycles
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		CooldownMax:      5 * time.Minute,
	}
}

// Breaker is a per-model circuit breaker state machine.
type Breaker struct {
	mu           sync.Mutex
	state        State
	consecutive  int           // consecutive countable failures while closed
	openedAt     time.Time     // when transitioned to OPEN
	cooldown     time.Duration // current cooldown, doubles on reopen
	probing      bool          // true when a half-open probe is in flight
	lastUsed     time.Time     // for stale eviction
	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.CooldownMax < cfg.Cooldown {
		cfg.CooldownMax = cfg.Cooldown
	}
	return &Breaker{
		state:        StateClosed,
		cooldown:     cfg.Cooldown,
		threshold:    cfg.FailureThreshold,
		baseCooldown: cfg.Cooldown,
		maxCooldown:  cfg.CooldownMax,
		lastUsed:     time.Now(),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	n := b.consecutive
	b.mu.Unlock()
	return n
}

// CanRoute reports whether a request could proceed right now, without
// consuming the half-open probe slot or mutating any state. Routing filters
// with this; Allow is reserved for the invocation that actually runs.
func (b *Breaker) CanRoute() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return now.Sub(b.openedAt) >= b.cooldown
	case StateHalfOpen:
		return !b.probing
	}
	return false
}

// Allow checks whether a request may proceed. An OPEN breaker transitions to
// HALF_OPEN once the cooldown has elapsed and admits that caller as the
// single probe. Every admitted call must be resolved with RecordSuccess,
// RecordFailure, or ReleaseProbe.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call. It resets the failure counter;
// a successful half-open probe closes the breaker and restores the base
// cooldown.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.consecutive = 0

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.cooldown = b.baseCooldown
	}
}

// RecordFailure records a countable failure. While closed, the threshold-th
// consecutive failure opens the breaker. A failed half-open probe reopens it
// with the cooldown doubled, capped at the configured maximum.
func (b *Breaker) RecordFailure() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
		b.cooldown = min(b.cooldown*2, b.maxCooldown)
	case StateOpen:
		// Late failure from a call admitted before the trip; nothing to do.
	}
}

// ReleaseProbe frees the half-open probe slot without recording an outcome.
// Used when an admitted call ends in a result that says nothing about the
// provider's health, such as a client-side validation error.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
	b.mu.Unlock()
}

// LastUsed returns the time of last activity (for stale eviction).
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	t := b.lastUsed
	b.mu.Unlock()
	return t
}
