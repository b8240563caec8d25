// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/ratelimit"
)

// defaultShards is the shard count used when none is configured.
const defaultShards = 16

type rateShard struct {
	mu      sync.Mutex
	records map[string]ratelimit.Record
}

// RateStore implements ratelimit.Store and ratelimit.Incrementer in memory.
// Keys are spread over independently locked shards by xxhash so unrelated
// clients do not contend on one mutex.
// Counters are local to this process; use the Redis store to share them.
type RateStore struct {
	shards []*rateShard
	now    func() time.Time
	logger *slog.Logger

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// RateStoreOption configures a RateStore.
type RateStoreOption func(*RateStore)

// WithShards sets the number of shards. Values below 1 are ignored.
func WithShards(n int) RateStoreOption {
	return func(s *RateStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// WithRateStoreClock overrides the time source used by cleanup.
func WithRateStoreClock(now func() time.Time) RateStoreOption {
	return func(s *RateStore) {
		s.now = now
	}
}

// WithCleanupInterval sets how often StartCleanup sweeps expired records.
// Zero leaves expiry purely lazy.
func WithCleanupInterval(d time.Duration) RateStoreOption {
	return func(s *RateStore) {
		s.cleanupInterval = d
	}
}

// WithRateStoreLogger sets the logger used for cleanup reports.
func WithRateStoreLogger(logger *slog.Logger) RateStoreOption {
	return func(s *RateStore) {
		s.logger = logger
	}
}

// NewRateStore creates an empty in-memory rate store.
func NewRateStore(opts ...RateStoreOption) *RateStore {
	s := &RateStore{
		shards:   newShards(defaultShards),
		now:      time.Now,
		logger:   slog.Default(),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*rateShard {
	shards := make([]*rateShard, n)
	for i := range shards {
		shards[i] = &rateShard{records: make(map[string]ratelimit.Record)}
	}
	return shards
}

func (s *RateStore) shard(key string) *rateShard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Get returns the record for key, expired or not.
func (s *RateStore) Get(_ context.Context, key string) (ratelimit.Record, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	return rec, ok, nil
}

// Set replaces the record for key.
func (s *RateStore) Set(_ context.Context, key string, rec ratelimit.Record) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.records[key] = rec
	return nil
}

// Incr performs the fixed-window increment under the shard lock.
// An absent or expired record is replaced with a fresh window.
func (s *RateStore) Incr(_ context.Context, key string, window time.Duration, now time.Time) (ratelimit.Record, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok || rec.Expired(now) {
		rec = ratelimit.Record{Count: 1, ResetAt: now.Add(window)}
	} else {
		rec.Count++
	}
	sh.records[key] = rec
	return rec, nil
}

// StartCleanup starts a goroutine that periodically drops expired records.
// It stops when ctx is cancelled or Stop is called. Without a positive
// cleanup interval it does nothing.
func (s *RateStore) StartCleanup(ctx context.Context) {
	if s.cleanupInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes records whose window has elapsed.
func (s *RateStore) cleanup() {
	now := s.now()
	cleaned := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, rec := range sh.records {
			if rec.Expired(now) {
				delete(sh.records, key)
				cleaned++
			}
		}
		sh.mu.Unlock()
	}

	if cleaned > 0 {
		s.logger.Debug("rate store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", s.Size())
	}
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *RateStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of tracked keys.
func (s *RateStore) Size() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

// Compile-time interface verification.
var (
	_ ratelimit.Store       = (*RateStore)(nil)
	_ ratelimit.Incrementer = (*RateStore)(nil)
)
