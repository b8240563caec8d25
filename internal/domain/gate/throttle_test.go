package gate

import (
	"errors"
	"sync"
	"testing"
)

func TestThrottle_RejectsBeyondMax(t *testing.T) {
	t.Parallel()

	th := NewThrottle()
	const max = 3

	slots := make([]*Slot, 0, max)
	for i := 0; i < max; i++ {
		s, err := th.Acquire(max)
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i+1, err)
		}
		slots = append(slots, s)
	}

	_, err := th.Acquire(max)
	rej, ok := AsRejection(err)
	if !ok || rej.Kind != KindConnectionLimit {
		t.Fatalf("Acquire() beyond max = %v, want connection_limit", err)
	}
	if rej.Status != 503 {
		t.Errorf("status = %d, want 503", rej.Status)
	}

	// Releasing one slot frees capacity for exactly one more.
	slots[0].Release()
	if _, err := th.Acquire(max); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	if _, err := th.Acquire(max); err == nil {
		t.Error("second Acquire() after a single release succeeded")
	}
}

func TestThrottle_ReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	th := NewThrottle()
	s, err := th.Acquire(1)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	s.Release()
	s.Release()
	if th.Active() != 0 {
		t.Errorf("Active() = %d after double release, want 0", th.Active())
	}
}

func TestThrottle_ReleasedOnPanic(t *testing.T) {
	t.Parallel()

	th := NewThrottle()
	func() {
		defer func() { _ = recover() }()
		s, err := th.Acquire(1)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer s.Release()
		panic("handler failure")
	}()

	if th.Active() != 0 {
		t.Errorf("Active() = %d after panic, want 0", th.Active())
	}
}

func TestThrottle_Unlimited(t *testing.T) {
	t.Parallel()

	th := NewThrottle()
	for i := 0; i < 1000; i++ {
		if _, err := th.Acquire(0); err != nil {
			t.Fatalf("Acquire(0) error = %v", err)
		}
	}
}

func TestThrottle_ConcurrentNeverExceedsMax(t *testing.T) {
	t.Parallel()

	th := NewThrottle()
	const max = 10

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired []*Slot
		rejected int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := th.Acquire(max)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var rej *Rejection
				if !errors.As(err, &rej) {
					t.Errorf("unexpected error type %T", err)
				}
				rejected++
				return
			}
			acquired = append(acquired, s)
		}()
	}
	wg.Wait()

	if len(acquired) != max || rejected != 90 {
		t.Errorf("acquired = %d, rejected = %d; want %d and 90", len(acquired), rejected, max)
	}
	for _, s := range acquired {
		s.Release()
	}
	if th.Active() != 0 {
		t.Errorf("Active() = %d, want 0", th.Active())
	}
}
