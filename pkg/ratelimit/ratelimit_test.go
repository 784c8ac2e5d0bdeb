package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBucket(cfg Config, clock *fakeClock) *Bucket {
	b := NewBucket(cfg)
	b.now = clock.Now
	b.last = clock.Now()
	b.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.Advance(d)
		return nil
	}
	return b
}

func TestBucket_NilNeverLimits(t *testing.T) {
	b := NewBucket(Config{Capacity: 0})
	if b != nil {
		t.Fatalf("expected nil bucket for zero capacity")
	}
	for i := 0; i < 100; i++ {
		if err := b.Take(context.Background()); err != nil {
			t.Fatalf("nil bucket should admit, got %v", err)
		}
	}
}

func TestBucket_RejectConservesTokens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBucket(Config{Capacity: 5, RefillPerSecond: 0, Policy: PolicyReject}, clock)

	admitted, rejected := 0, 0
	for i := 0; i < 8; i++ {
		err := b.Take(context.Background())
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrExhausted):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != 5 || rejected != 3 {
		t.Errorf("expected 5 admitted and 3 rejected, got %d and %d", admitted, rejected)
	}
}

func TestBucket_ConcurrentRejectAdmitsExactlyCapacity(t *testing.T) {
	b := NewBucket(Config{Capacity: 10, RefillPerSecond: 0, Policy: PolicyReject})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryTake() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 10 {
		t.Errorf("expected exactly 10 admissions, got %d", admitted.Load())
	}
}

func TestBucket_Refill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBucket(Config{Capacity: 2, RefillPerSecond: 1, Policy: PolicyReject}, clock)

	b.TryTake()
	b.TryTake()
	if b.TryTake() {
		t.Fatalf("expected empty bucket")
	}

	clock.Advance(1500 * time.Millisecond)
	if !b.TryTake() {
		t.Fatalf("expected one refilled token")
	}
	if b.TryTake() {
		t.Fatalf("expected only one token after 1.5s")
	}

	clock.Advance(time.Hour)
	if got := b.Tokens(); got != 2 {
		t.Errorf("tokens must be capped at capacity, got %v", got)
	}
}

func TestBucket_WaitSuspendsUntilRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := newTestBucket(Config{Capacity: 1, RefillPerSecond: 2, Policy: PolicyWait}, clock)

	start := clock.Now()
	for i := 0; i < 3; i++ {
		if err := b.Take(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	waited := clock.Now().Sub(start)
	if waited < time.Second-time.Millisecond || waited > time.Second+time.Millisecond {
		t.Errorf("expected ~1s of simulated waiting, got %v", waited)
	}
}

func TestBucket_WaitWithoutRefillFails(t *testing.T) {
	b := NewBucket(Config{Capacity: 1, RefillPerSecond: 0, Policy: PolicyWait})
	_ = b.Take(context.Background())

	if err := b.Take(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted for a bucket that never refills, got %v", err)
	}
}

func TestBucket_WaitHonorsContext(t *testing.T) {
	b := NewBucket(Config{Capacity: 1, RefillPerSecond: 0.01, Policy: PolicyWait})
	_ = b.Take(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Take(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(30, PolicyWait)
	if cfg.Capacity != 30 || cfg.RefillPerSecond != 0.5 || cfg.Policy != PolicyWait {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
