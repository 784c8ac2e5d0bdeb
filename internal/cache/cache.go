// Package cache stores search results under a fingerprint of the request
// for a fixed time-to-live.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/FranksOps/sift/internal/metrics"
	"github.com/FranksOps/sift/internal/model"
)

// DefaultTTL is used when a Cache is created with a zero TTL.
const DefaultTTL = 5 * time.Minute

// Store is a key/value backend for cached results. Implementations must be
// safe for concurrent use and must not return entries older than their TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]model.ResultItem, bool, error)
	Set(ctx context.Context, key string, items []model.ResultItem, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// Sweeper is implemented by stores that need expired entries removed
// periodically.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// Cache is the result cache used by the search coordinator. Backend errors
// are logged and treated as misses.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps store with the given TTL.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached items for key, if present and not expired.
func (c *Cache) Get(ctx context.Context, key string) ([]model.ResultItem, bool) {
	if c == nil {
		return nil, false
	}
	items, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "err", err)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return items, true
}

// Set stores items under key.
func (c *Cache) Set(ctx context.Context, key string, items []model.ResultItem) {
	if c == nil {
		return
	}
	if err := c.store.Set(ctx, key, items, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "err", err)
	}
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.store.Clear(ctx)
}

// Sweep removes expired entries when the store needs it and returns how
// many were dropped.
func (c *Cache) Sweep(ctx context.Context) int {
	if c == nil {
		return 0
	}
	if s, ok := c.store.(Sweeper); ok {
		return s.Sweep(ctx)
	}
	return 0
}

// Fingerprint derives a stable key from the source, the normalized query
// and the request parameters. Parameter order does not matter.
func Fingerprint(source, query string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(source))))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeQuery(query)))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeQuery lowercases the query and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func cloneItems(items []model.ResultItem) []model.ResultItem {
	if items == nil {
		return nil
	}
	out := make([]model.ResultItem, len(items))
	copy(out, items)
	return out
}
