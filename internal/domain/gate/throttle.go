package gate

import (
	"sync"
	"sync/atomic"
)

// Throttle caps the number of concurrently active streaming connections.
// One Throttle is shared by every request on the instance.
type Throttle struct {
	active atomic.Int64
}

// NewThrottle creates a throttle with no active connections.
func NewThrottle() *Throttle {
	return &Throttle{}
}

// Acquire claims a slot, or returns a connection_limit *Rejection when max
// slots are already held. max <= 0 means no cap.
func (t *Throttle) Acquire(max int) (*Slot, error) {
	for {
		cur := t.active.Load()
		if max > 0 && cur >= int64(max) {
			return nil, ConnectionLimit()
		}
		if t.active.CompareAndSwap(cur, cur+1) {
			return &Slot{throttle: t}, nil
		}
	}
}

// Active returns the number of held slots.
func (t *Throttle) Active() int64 {
	return t.active.Load()
}

// Slot is one held connection. Release must be called exactly once on
// every exit path; extra calls are no-ops.
type Slot struct {
	throttle *Throttle
	once     sync.Once
}

// Release returns the slot to the throttle.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.throttle.active.Add(-1)
	})
}
