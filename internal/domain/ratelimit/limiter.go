package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter is the interface for rate limiting operations.
//
// The interface is storage-agnostic: the limiter decides allow/deny, the
// Store only keeps counters.
type RateLimiter interface {
	// Allow checks if a request identified by key is allowed under the given policy.
	//
	// The key should be a structured identifier created by FormatKey.
	// If the request is not allowed, RetryAfter in the result indicates when
	// the current window resets.
	Allow(ctx context.Context, key string, policy Policy) (Result, error)
}

// FixedWindowLimiter implements RateLimiter with a fixed-window counter.
//
// Fixed windows are cheap but admit up to twice the configured rate around a
// window boundary: a client can spend its whole budget at the end of one
// window and again at the start of the next. This is a known accuracy
// limitation of the algorithm, not a defect.
type FixedWindowLimiter struct {
	store  Store
	incr   Incrementer
	now    func() time.Time
	logger *slog.Logger

	// mu serializes the read-then-write fallback for stores without Incrementer.
	mu sync.Mutex
}

// LimiterOption configures a FixedWindowLimiter.
type LimiterOption func(*FixedWindowLimiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for operator warnings.
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// NewFixedWindowLimiter creates a limiter over store.
//
// When store does not implement Incrementer the limiter falls back to a
// read-then-write sequence. That sequence is serialized inside this process
// but can race with other processes sharing the same store, so a warning is
// logged once here.
func NewFixedWindowLimiter(store Store, opts ...LimiterOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if incr, ok := store.(Incrementer); ok {
		l.incr = incr
	} else {
		l.logger.Warn("rate limit store has no atomic increment, using read-then-write; counts may race across instances sharing the store",
			"store", fmt.Sprintf("%T", store))
	}
	return l
}

// Atomic reports whether the underlying store increments atomically.
func (l *FixedWindowLimiter) Atomic() bool {
	return l.incr != nil
}

// Allow counts the request against key and decides whether it is allowed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, policy Policy) (Result, error) {
	now := l.now()

	var (
		rec Record
		err error
	)
	if l.incr != nil {
		rec, err = l.incr.Incr(ctx, key, policy.Window, now)
	} else {
		rec, err = l.readThenWrite(ctx, key, policy.Window, now)
	}
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	return decide(rec, policy, now), nil
}

func (l *FixedWindowLimiter) readThenWrite(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if !ok || rec.Expired(now) {
		rec = Record{Count: 1, ResetAt: now.Add(window)}
	} else {
		rec.Count++
	}
	if err := l.store.Set(ctx, key, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// decide turns an updated record into a Result.
func decide(rec Record, policy Policy, now time.Time) Result {
	res := Result{
		Count:   rec.Count,
		ResetAt: rec.ResetAt,
	}

	if rec.Count > int64(policy.Limit) {
		retry := rec.ResetAt.Sub(now)
		if retry <= 0 {
			// The store reported a window that ends now; the next request opens a new one.
			retry = time.Millisecond
		}
		res.RetryAfter = retry
		return res
	}

	res.Allowed = true
	res.Remaining = policy.Limit - int(rec.Count)
	return res
}

// Compile-time interface verification.
var _ RateLimiter = (*FixedWindowLimiter)(nil)
