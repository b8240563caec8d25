package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/ratelimit"
)

// incrScript increments the counter and starts its window on first use.
// It returns the new count and the remaining window in milliseconds.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateStore keeps fixed-window counters in Redis. The window is the key's
// TTL, so expired counters disappear on their own.
type RateStore struct {
	client *Client
	now    func() time.Time
}

// NewRateStore creates a rate store on client.
func NewRateStore(client *Client) *RateStore {
	return &RateStore{client: client, now: time.Now}
}

// Get returns the counter and derives ResetAt from the key's TTL.
func (s *RateStore) Get(ctx context.Context, key string) (ratelimit.Record, bool, error) {
	k := s.client.key(key)

	pipe := s.client.rdb.Pipeline()
	get := pipe.Get(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ratelimit.Record{}, false, err
	}

	raw, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return ratelimit.Record{}, false, nil
	}
	if err != nil {
		return ratelimit.Record{}, false, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ratelimit.Record{}, false, fmt.Errorf("corrupt counter %q: %w", k, err)
	}

	rec := ratelimit.Record{Count: count, ResetAt: s.now()}
	if d := ttl.Val(); d > 0 {
		rec.ResetAt = rec.ResetAt.Add(d)
	}
	return rec, true, nil
}

// Set stores the counter with a TTL ending at rec.ResetAt.
// A record whose window already ended is deleted instead.
func (s *RateStore) Set(ctx context.Context, key string, rec ratelimit.Record) error {
	k := s.client.key(key)
	ttl := rec.ResetAt.Sub(s.now())
	if ttl <= 0 {
		return s.client.rdb.Del(ctx, k).Err()
	}
	return s.client.rdb.Set(ctx, k, rec.Count, ttl).Err()
}

// Incr runs the increment as a single server-side script.
func (s *RateStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (ratelimit.Record, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	vals, err := incrScript.Run(ctx, s.client.rdb, []string{s.client.key(key)}, ms).Int64Slice()
	if err != nil {
		return ratelimit.Record{}, err
	}
	if len(vals) != 2 {
		return ratelimit.Record{}, fmt.Errorf("unexpected script reply %v", vals)
	}

	return ratelimit.Record{
		Count:   vals[0],
		ResetAt: now.Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// Compile-time interface verification.
var (
	_ ratelimit.Store       = (*RateStore)(nil)
	_ ratelimit.Incrementer = (*RateStore)(nil)
)
