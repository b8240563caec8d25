package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
)

// nonceEntry is one remembered nonce and its request timestamp.
type nonceEntry struct {
	nonce string
	ts    int64
	index int
}

// nonceHeap orders entries oldest timestamp first.
type nonceHeap []*nonceEntry

func (h nonceHeap) Len() int           { return len(h) }
func (h nonceHeap) Less(i, j int) bool { return h[i].ts < h[j].ts }
func (h nonceHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *nonceHeap) Push(x any) {
	e := x.(*nonceEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *nonceHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// NonceCache implements auth.NonceStore for a single process.
//
// Entries expire once their timestamp is older than the skew window and the
// cache never holds more than the configured capacity; when full, the entry
// with the oldest timestamp is evicted first.
type NonceCache struct {
	mu      sync.Mutex
	entries map[string]*nonceEntry
	order   nonceHeap
}

// NewNonceCache creates an empty nonce cache.
func NewNonceCache() *NonceCache {
	return &NonceCache{entries: make(map[string]*nonceEntry)}
}

// Seen prunes expired entries and reports whether nonce is present.
func (c *NonceCache) Seen(_ context.Context, nonce string, now time.Time, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now, window)
	_, ok := c.entries[nonce]
	return ok, nil
}

// Remember inserts nonce if absent and trims the cache to capacity.
// It returns false when nonce was already present.
func (c *NonceCache) Remember(_ context.Context, nonce string, ts int64, now time.Time, window time.Duration, capacity int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now, window)
	if _, ok := c.entries[nonce]; ok {
		return false, nil
	}

	e := &nonceEntry{nonce: nonce, ts: ts}
	heap.Push(&c.order, e)
	c.entries[nonce] = e

	if capacity > 0 {
		for len(c.order) > capacity {
			old := heap.Pop(&c.order).(*nonceEntry)
			delete(c.entries, old.nonce)
		}
	}
	return true, nil
}

// prune drops entries whose timestamp is older than window. Caller holds mu.
func (c *NonceCache) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window).Unix()
	for len(c.order) > 0 && c.order[0].ts < cutoff {
		old := heap.Pop(&c.order).(*nonceEntry)
		delete(c.entries, old.nonce)
	}
}

// Size returns the number of remembered nonces.
func (c *NonceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Compile-time interface verification.
var _ auth.NonceStore = (*NonceCache)(nil)
