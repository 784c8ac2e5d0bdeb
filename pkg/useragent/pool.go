package useragent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
)

// DefaultPool provides a realistic set of modern User-Agents for desktop browsers.
var DefaultPool = []string{
	// Chrome Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	// Chrome Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	// Firefox Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	// Firefox Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
	// Safari Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	// Edge Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Strategy selects how Pick rotates User-Agents.
type Strategy string

const (
	// PerRequest picks a random agent for every request.
	PerRequest Strategy = "per_request"
	// PerSession rotates round-robin.
	PerSession Strategy = "per_session"
	// PerPlatform pins one agent to each platform on first use.
	PerPlatform Strategy = "per_platform"
)

// ParseStrategy validates a strategy name. An empty name means PerSession.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return PerSession, nil
	case PerRequest, PerSession, PerPlatform:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("useragent: unknown rotation strategy %q", s)
}

// Pool represents a collection of User-Agents that can be retrieved sequentially or randomly.
type Pool struct {
	uas      []string
	strategy Strategy
	counter  atomic.Uint64

	mu     sync.Mutex
	pinned map[string]string
}

// NewPool creates a new User-Agent pool using the PerSession strategy. If the
// provided slice is empty, it falls back to DefaultPool.
func NewPool(uas []string) *Pool {
	return NewPoolWithStrategy(uas, PerSession)
}

// NewPoolWithStrategy creates a pool that rotates with strategy.
func NewPoolWithStrategy(uas []string, strategy Strategy) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	if strategy == "" {
		strategy = PerSession
	}
	copied := make([]string, len(uas))
	copy(copied, uas)
	return &Pool{
		uas:      copied,
		strategy: strategy,
		pinned:   make(map[string]string),
	}
}

// Strategy returns the configured rotation strategy.
func (p *Pool) Strategy() Strategy {
	return p.strategy
}

// Pick returns an agent for a request to platform according to the pool's
// strategy. platform may be empty, in which case PerPlatform falls back to
// round-robin.
func (p *Pool) Pick(platform string) string {
	switch p.strategy {
	case PerRequest:
		return p.GetRandom()
	case PerPlatform:
		if platform == "" {
			return p.GetSequential()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		ua, ok := p.pinned[platform]
		if !ok {
			ua = p.GetSequential()
			p.pinned[platform] = ua
		}
		return ua
	default:
		return p.GetSequential()
	}
}

// GetSequential returns the next User-Agent in the pool in a round-robin fashion.
// It is safe for concurrent use.
func (p *Pool) GetSequential() string {
	if len(p.uas) == 0 {
		return ""
	}
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// GetRandom returns a random User-Agent from the pool using crypto/rand.
// It is safe for concurrent use.
func (p *Pool) GetRandom() string {
	if len(p.uas) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.GetSequential()
	}
	return p.uas[n.Int64()]
}

// GetAll returns a copy of all User-Agents currently in the pool.
func (p *Pool) GetAll() []string {
	copied := make([]string, len(p.uas))
	copy(copied, p.uas)
	return copied
}

// Reset clears the rotation position and platform pins.
func (p *Pool) Reset() {
	p.counter.Store(0)
	p.mu.Lock()
	clear(p.pinned)
	p.mu.Unlock()
}
