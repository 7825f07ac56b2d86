// Package ratelimit implements the Rate Limiter (C6): per-identifier
// sliding-window counters over requests and tokens at minute/hour/day
// granularity, plus a concurrent-request semaphore. Acquire blocks (with
// context cancellation) until the caller is admitted and then returns a
// release function, so a caller can free the semaphore slot on every exit
// path, success or failure. If the context ends first, Acquire returns the
// context's error and a nil release function, and no slot is held.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Window names one sliding window granularity tracked per identifier.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the minute/hour/day windows the limiter tracks by
// default.
func DefaultWindows() []Window {
	return []Window{
		{Name: "minute", Duration: time.Minute},
		{Name: "hour", Duration: time.Hour},
		{Name: "day", Duration: 24 * time.Hour},
	}
}

// Limits bounds one identifier's traffic. A zero value in any field means
// unlimited for that dimension.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	TokensPerMinute   int
	TokensPerHour     int
	TokensPerDay      int
	MaxConcurrent     int
}

type sample struct {
	at     time.Time
	tokens int
}

// bucket is the per-identifier sliding-window state: a ring of samples per
// window plus a semaphore for concurrency.
type bucket struct {
	mu       sync.Mutex
	limits   Limits
	samples  map[string][]sample // window name -> samples within that window
	inFlight int
	lastUsed time.Time
}

// entry pairs an identifier with its bucket for the LRU list.
type entry struct {
	key string
	b   *bucket
}

// Limiter tracks sliding-window request/token counters and in-flight
// concurrency per identifier (user, team, project, or provider id).
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*list.Element
	lru       *list.List
	windows   []Window
	default_  Limits
	maxKeys   int
	stop      chan struct{}
	rejects   prometheus.Counter
	nowFunc   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithDefaultLimits sets the limits applied to identifiers that have no
// override.
func WithDefaultLimits(l Limits) Option {
	return func(lim *Limiter) { lim.default_ = l }
}

// WithWindows overrides the tracked sliding windows (default: minute/hour/day).
func WithWindows(w []Window) Option {
	return func(lim *Limiter) { lim.windows = w }
}

// WithCounter sets a Prometheus counter incremented on each rejection.
func WithCounter(c prometheus.Counter) Option {
	return func(lim *Limiter) { lim.rejects = c }
}

// WithMaxKeys sets the maximum number of tracked identifiers before LRU
// eviction. Default 100,000.
func WithMaxKeys(n int) Option {
	return func(lim *Limiter) { lim.maxKeys = n }
}

// WithNow overrides the clock; intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(lim *Limiter) { lim.nowFunc = fn }
}

// New creates a Limiter. defaultLimits applies to any identifier without a
// per-identifier override.
func New(defaultLimits Limits, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*list.Element),
		lru:      list.New(),
		windows:  DefaultWindows(),
		default_: defaultLimits,
		maxKeys:  100000,
		stop:     make(chan struct{}),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// getOrCreate returns the bucket for identifier, creating one with the
// default limits if it doesn't exist yet. Must be called with l.mu NOT
// held (it takes the lock itself).
func (l *Limiter) getOrCreate(identifier string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.buckets[identifier]
	if ok {
		l.lru.MoveToFront(elem)
		return elem.Value.(*entry).b
	}
	if len(l.buckets) >= l.maxKeys {
		l.evictOldest()
	}
	b := &bucket{
		limits:   l.default_,
		samples:  make(map[string][]sample),
		lastUsed: l.nowFunc(),
	}
	e := &entry{key: identifier, b: b}
	elem = l.lru.PushFront(e)
	l.buckets[identifier] = elem
	return b
}

// SetLimits overrides the limits for one identifier.
func (l *Limiter) SetLimits(identifier string, limits Limits) {
	b := l.getOrCreate(identifier)
	b.mu.Lock()
	b.limits = limits
	b.mu.Unlock()
}

func (l *Limiter) evictOldest() {
	back := l.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	delete(l.buckets, e.key)
	l.lru.Remove(back)
}

// Decision reports the outcome of an admission check.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration
	Reason     string
}

// Check reports whether identifier may make one more request estimated to
// cost estimatedTokens, without admitting it.
func (l *Limiter) Check(identifier string, estimatedTokens int) Decision {
	b := l.getOrCreate(identifier)
	now := l.nowFunc()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.check(l.windows, now, estimatedTokens)
}

// check evaluates every window's request and token caps. Caller holds b.mu.
func (b *bucket) check(windows []Window, now time.Time, estimatedTokens int) Decision {
	for _, w := range windows {
		reqCap, tokCap := b.capsFor(w.Name)
		if reqCap == 0 && tokCap == 0 {
			continue
		}
		cutoff := now.Add(-w.Duration)
		samples := pruneBefore(b.samples[w.Name], cutoff)
		b.samples[w.Name] = samples

		var reqCount, tokCount int
		for _, s := range samples {
			reqCount++
			tokCount += s.tokens
		}
		if reqCap > 0 && reqCount >= reqCap {
			return Decision{Admitted: false, RetryAfter: retryAfter(samples, w.Duration, now), Reason: fmt.Sprintf("%s request limit", w.Name)}
		}
		if tokCap > 0 && tokCount+estimatedTokens > tokCap {
			return Decision{Admitted: false, RetryAfter: retryAfter(samples, w.Duration, now), Reason: fmt.Sprintf("%s token limit", w.Name)}
		}
	}
	return Decision{Admitted: true}
}

func (b *bucket) capsFor(window string) (reqCap, tokCap int) {
	switch window {
	case "minute":
		return b.limits.RequestsPerMinute, b.limits.TokensPerMinute
	case "hour":
		return b.limits.RequestsPerHour, b.limits.TokensPerHour
	case "day":
		return b.limits.RequestsPerDay, b.limits.TokensPerDay
	default:
		return 0, 0
	}
}

func pruneBefore(samples []sample, cutoff time.Time) []sample {
	out := samples[:0:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// retryAfter estimates how long until the oldest sample in the window
// expires, making room for a new one.
func retryAfter(samples []sample, windowDur time.Duration, now time.Time) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	oldest := samples[0].at
	wait := oldest.Add(windowDur).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// record appends a usage sample to every window. Caller holds b.mu.
func (b *bucket) record(now time.Time, tokens int) {
	for name := range b.samples {
		b.samples[name] = append(b.samples[name], sample{at: now, tokens: tokens})
	}
	if len(b.samples) == 0 {
		// Not yet initialized by a check; nothing to record into.
		return
	}
}

// ReleaseFunc releases a concurrency slot acquired via Acquire. It is safe
// to call more than once; only the first call has an effect.
type ReleaseFunc func()

// Acquire blocks until identifier is admitted to make one request
// estimated to cost estimatedTokens, or ctx is done. On success it returns
// a release function the caller MUST call exactly once when the request
// finishes (success or failure) to free the concurrency slot.
func (l *Limiter) Acquire(ctx context.Context, identifier string, estimatedTokens int) (ReleaseFunc, error) {
	b := l.getOrCreate(identifier)

	for {
		now := l.nowFunc()
		b.mu.Lock()
		for _, w := range l.windows {
			if _, ok := b.samples[w.Name]; !ok {
				b.samples[w.Name] = nil
			}
		}
		decision := b.check(l.windows, now, estimatedTokens)
		if decision.Admitted {
			if b.limits.MaxConcurrent > 0 && b.inFlight >= b.limits.MaxConcurrent {
				decision.Admitted = false
				if decision.RetryAfter == 0 {
					decision.RetryAfter = 50 * time.Millisecond
				}
			}
		}
		if decision.Admitted {
			b.inFlight++
			b.record(now, estimatedTokens)
			b.lastUsed = now
			b.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					b.mu.Lock()
					b.inFlight--
					b.mu.Unlock()
				})
			}, nil
		}
		b.mu.Unlock()

		if l.rejects != nil {
			l.rejects.Inc()
		}

		wait := decision.RetryAfter
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.nowFunc().Add(-10 * time.Minute)
			for elem := l.lru.Back(); elem != nil; {
				e := elem.Value.(*entry)
				prev := elem.Prev()
				e.b.mu.Lock()
				stale := e.b.lastUsed.Before(cutoff) && e.b.inFlight == 0
				e.b.mu.Unlock()
				if stale {
					delete(l.buckets, e.key)
					l.lru.Remove(elem)
				}
				elem = prev
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
