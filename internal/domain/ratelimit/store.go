package ratelimit

import (
	"context"
	"time"
)

// Store is the key/value abstraction over rate limit counter records.
//
// The in-process memory store is the default. Implementations backed by a
// shared external store allow counters to be consistent across horizontally
// scaled instances.
type Store interface {
	// Get returns the record stored for key.
	// The boolean is false when no record exists; expired records may still
	// be returned and are treated as absent by the limiter.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Set stores the record for key, replacing any previous value.
	Set(ctx context.Context, key string, rec Record) error
}

// Incrementer is implemented by stores that can perform the fixed-window
// increment atomically on their side.
//
// Incr must behave exactly like the limiter's read-then-write sequence
// executed as one unit: when the record for key is absent or expired at now,
// it is replaced with {Count: 1, ResetAt: now+window}; otherwise Count is
// incremented and ResetAt is left unchanged. The updated record is returned.
type Incrementer interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error)
}
