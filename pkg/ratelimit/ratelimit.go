package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// Policy decides what happens when a bucket has no token left.
type Policy string

const (
	// PolicyReject fails the acquisition immediately.
	PolicyReject Policy = "reject"
	// PolicyWait suspends the caller until a token has been refilled.
	PolicyWait Policy = "wait"
)

// ErrExhausted is returned when a bucket under PolicyReject has no token,
// or when a waiting bucket can never refill.
var ErrExhausted = errors.New("ratelimit: bucket exhausted")

// Config describes a token bucket.
type Config struct {
	Capacity        float64
	RefillPerSecond float64
	Policy          Policy
}

// PerMinute builds a Config holding n tokens that refills n tokens per minute.
func PerMinute(n int, policy Policy) Config {
	return Config{
		Capacity:        float64(n),
		RefillPerSecond: float64(n) / 60,
		Policy:          policy,
	}
}

// Enabled reports whether the config describes a limiting bucket.
func (c Config) Enabled() bool {
	return c.Capacity > 0
}

// Bucket is a token bucket. It starts full and refills continuously.
// A nil *Bucket never limits. It is safe for concurrent use.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	refill   float64
	policy   Policy
	tokens   float64
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBucket creates a bucket from cfg. If cfg.Capacity is <= 0 it returns
// nil, which admits every request.
func NewBucket(cfg Config) *Bucket {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.RefillPerSecond < 0 {
		cfg.RefillPerSecond = 0
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReject
	}
	return &Bucket{
		capacity: cfg.Capacity,
		refill:   cfg.RefillPerSecond,
		policy:   cfg.Policy,
		tokens:   cfg.Capacity,
		last:     time.Now(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Policy returns the exhaustion policy of the bucket.
func (b *Bucket) Policy() Policy {
	if b == nil {
		return PolicyReject
	}
	return b.policy
}

// Tokens returns the number of tokens currently available.
func (b *Bucket) Tokens() float64 {
	if b == nil {
		return math.Inf(1)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// TryTake consumes one token if available and reports whether it did.
func (b *Bucket) TryTake() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Take consumes one token according to the bucket's policy. Under
// PolicyWait it blocks until a token is available or ctx is done.
func (b *Bucket) Take(ctx context.Context) error {
	if b == nil {
		return nil
	}
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		if b.policy != PolicyWait || b.refill <= 0 {
			b.mu.Unlock()
			return ErrExhausted
		}
		wait := time.Duration((1 - b.tokens) / b.refill * float64(time.Second))
		b.mu.Unlock()

		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Refund returns a previously taken token, never exceeding capacity.
func (b *Bucket) Refund() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.tokens = math.Min(b.capacity, b.tokens+1)
}

// refillLocked adds the tokens accrued since the last refill. Must be called with lock held.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refill)
	}
	b.last = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
