// Package circuitbreaker implements the Circuit Breaker (C5): a
// thread-safe per-identifier state machine that isolates a failing
// provider from further traffic after repeated failures, and lets a single
// probe back through after a cooldown to test recovery.
//
// State diagram: Closed -> Open on failure_count >= failure_threshold;
// Open -> HalfOpen once now is past next_retry_at; HalfOpen -> Closed on a
// successful probe, or -> Open immediately on a failed probe.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/arcbridge/agentcore/models"
)

const (
	defaultThreshold   = 5
	defaultRetryPeriod = 60 * time.Second
)

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the number of consecutive failures required to trip
// the breaker from Closed to Open. The default is 5.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithRetryTimeout sets how long the breaker stays Open before allowing a
// half-open probe. The default is 60 seconds.
func WithRetryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.retryTimeout = d
		}
	}
}

// WithOnStateChange registers a callback that fires on every state
// transition. The callback runs while the breaker's mutex is held, so it
// must not call back into the breaker.
func WithOnStateChange(fn func(identifier string, from, to models.CircuitState)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(b *Breaker) { b.nowFunc = fn }
}

// Breaker is a goroutine-safe circuit breaker for one identifier
// (typically a provider id).
type Breaker struct {
	mu sync.Mutex

	identifier       string
	state            models.CircuitState
	failureCount     int
	failureThreshold int
	retryTimeout     time.Duration
	lastFailure      *time.Time
	lastSuccess      *time.Time
	nextRetryAt      *time.Time
	onStateChange    func(identifier string, from, to models.CircuitState)

	nowFunc func() time.Time
}

// New creates a Breaker for identifier in the Closed state.
func New(identifier string, opts ...Option) *Breaker {
	b := &Breaker{
		identifier:       identifier,
		state:            models.CircuitClosed,
		failureThreshold: defaultThreshold,
		retryTimeout:     defaultRetryPeriod,
		nowFunc:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// IsOpen reports whether requests to this identifier should currently be
// blocked. Checking this is also the point at which an elapsed cooldown is
// observed: a check past next_retry_at transitions Open -> HalfOpen and
// returns false, admitting exactly one probe.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case models.CircuitClosed:
		return false
	case models.CircuitOpen:
		if b.nextRetryAt != nil && b.nowFunc().After(*b.nextRetryAt) {
			b.setState(models.CircuitHalfOpen)
			return false
		}
		return true
	case models.CircuitHalfOpen:
		// Only one probe in flight at a time.
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call. HalfOpen -> Closed; Closed
// resets the consecutive failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.lastSuccess = &now
	b.failureCount = 0
	if b.state == models.CircuitHalfOpen {
		b.setState(models.CircuitClosed)
	}
}

// RecordFailure records a failed call. Closed increments the consecutive
// failure counter and trips to Open at the threshold; HalfOpen (failed
// probe) reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.lastFailure = &now
	b.failureCount++

	switch b.state {
	case models.CircuitClosed:
		if b.failureCount >= b.failureThreshold {
			b.trip(now)
		}
	case models.CircuitHalfOpen:
		b.trip(now)
	}
}

// trip transitions to Open and arms the retry timer. Caller must hold mu.
func (b *Breaker) trip(now time.Time) {
	b.setState(models.CircuitOpen)
	next := now.Add(b.retryTimeout)
	b.nextRetryAt = &next
}

// setState transitions the breaker and fires the callback if registered.
// Caller must hold b.mu.
func (b *Breaker) setState(to models.CircuitState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.identifier, from, to)
	}
}

// Snapshot returns a copy of the breaker's current state.
func (b *Breaker) Snapshot() models.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.CircuitBreakerState{
		Identifier:          b.identifier,
		State:               b.state,
		FailureCount:        b.failureCount,
		FailureThreshold:    b.failureThreshold,
		RetryTimeoutSeconds: int(b.retryTimeout.Seconds()),
		LastFailure:         b.lastFailure,
		LastSuccess:         b.lastSuccess,
		NextRetryAt:         b.nextRetryAt,
	}
}

// Reset forces the breaker back to Closed, clearing counters and timers.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(models.CircuitClosed)
	b.failureCount = 0
	b.nextRetryAt = nil
}
