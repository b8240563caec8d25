package redis

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
)

// NonceStore remembers signature nonces in Redis, so a nonce accepted by
// one instance is refused by all of them.
//
// Each nonce lives for the rest of its skew window; capacity is not
// enforced because Redis expiry already bounds the key count.
type NonceStore struct {
	client *Client
}

// NewNonceStore creates a nonce store on client.
func NewNonceStore(client *Client) *NonceStore {
	return &NonceStore{client: client}
}

// Seen reports whether the nonce key exists.
func (s *NonceStore) Seen(ctx context.Context, nonce string, _ time.Time, _ time.Duration) (bool, error) {
	n, err := s.client.rdb.Exists(ctx, s.client.key("nonce", nonce)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remember claims the nonce with SET NX. The key outlives the last whole
// second in which the verifier still accepts ts, and never expires sooner
// than one second.
func (s *NonceStore) Remember(ctx context.Context, nonce string, ts int64, now time.Time, window time.Duration, _ int) (bool, error) {
	ttl := time.Unix(ts+1, 0).Add(window).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.client.rdb.SetNX(ctx, s.client.key("nonce", nonce), ts, ttl).Result()
}

// Compile-time interface verification.
var _ auth.NonceStore = (*NonceStore)(nil)
