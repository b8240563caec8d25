package auth

import (
	"context"
	"time"
)

// NonceStore remembers recently accepted signature nonces.
//
// The in-process implementation only protects a single instance; a shared
// implementation extends replay protection across instances.
type NonceStore interface {
	// Seen reports whether nonce was already accepted. Implementations drop
	// entries whose timestamp is older than window relative to now before
	// answering.
	Seen(ctx context.Context, nonce string, now time.Time, window time.Duration) (bool, error)

	// Remember records nonce with the request timestamp ts (unix seconds).
	// It is an atomic insert-if-absent: false means another request claimed
	// the nonce first. Bounded implementations evict oldest-by-timestamp
	// entries until at most capacity remain.
	Remember(ctx context.Context, nonce string, ts int64, now time.Time, window time.Duration, capacity int) (bool, error)
}
