package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/FranksOps/sift/internal/cache"
	"github.com/FranksOps/sift/internal/metrics"
	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/pacing"
	"github.com/FranksOps/sift/pkg/ratelimit"
)

// ContentEnricher fills in the full content of result items after a
// platform search. Failures are recorded per item and never fail the search.
type ContentEnricher interface {
	Enrich(ctx context.Context, query string, items []model.ResultItem, fn ProgressFunc) []model.ResultItem
}

// Options tune a single-source search.
type Options struct {
	UseCache       bool
	IncludeContent bool
}

// Config wires the collaborators of a Coordinator. Only Registry is required.
type Config struct {
	Registry *Registry
	Cache    *cache.Cache
	Limiter  *ratelimit.Manager
	Delays   *pacing.Manager
	Enricher ContentEnricher
	Logger   *slog.Logger
}

// Coordinator runs searches under caching, rate limiting and pacing.
type Coordinator struct {
	registry *Registry
	cache    *cache.Cache
	limiter  *ratelimit.Manager
	delays   *pacing.Manager
	enricher ContentEnricher
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		registry: cfg.Registry,
		cache:    cfg.Cache,
		limiter:  cfg.Limiter,
		delays:   cfg.Delays,
		enricher: cfg.Enricher,
		logger:   cfg.Logger,
	}
}

// Registry returns the source registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Search runs query on a single source. A cache hit returns immediately
// without consuming a rate limit token or waiting for a pacing delay.
// Otherwise the call acquires tokens, waits the pacing delay, executes the
// searcher and caches the result. Searcher errors are returned unchanged
// and are never retried.
func (c *Coordinator) Search(ctx context.Context, source, query string, limit int, opts Options, fn ProgressFunc) ([]model.ResultItem, error) {
	s, ok := c.registry.Lookup(source)
	if !ok {
		return nil, &ValidationError{Field: "sources", Reason: fmt.Sprintf("unknown source %q", source), Err: ErrUnknownSource}
	}
	if fn == nil {
		fn = func(string, string, int, int) {}
	}

	key := cache.Fingerprint(source, query, map[string]string{
		"limit":           strconv.Itoa(limit),
		"include_content": strconv.FormatBool(opts.IncludeContent),
	})
	if opts.UseCache {
		if items, ok := c.cache.Get(ctx, key); ok {
			c.logger.Debug("cache hit", "source", source, "query", query, "count", len(items))
			metrics.RecordSourceSearch(source, "cached", 0)
			fn("cache_hit", fmt.Sprintf("Loaded %d results from cache", len(items)), 100, 100)
			return items, nil
		}
	}

	if err := c.limiter.Acquire(ctx, source); err != nil {
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			metrics.RateLimitRejects.WithLabelValues(le.Scope).Inc()
		}
		metrics.RecordSourceSearch(source, "rate_limited", 0)
		return nil, err
	}

	if err := c.delays.Wait(ctx, source); err != nil {
		return nil, fmt.Errorf("pacing delay: %w", err)
	}

	enrich := opts.IncludeContent && c.enricher != nil
	searchFn := fn
	if enrich {
		searchFn = scaled(fn, 0, 70)
	}

	start := time.Now()
	items, err := s.Search(ctx, query, limit, searchFn)
	if err != nil {
		metrics.RecordSourceSearch(source, "error", time.Since(start))
		return nil, err
	}
	metrics.RecordSourceSearch(source, "success", time.Since(start))

	for i := range items {
		if items[i].Platform == "" {
			items[i].Platform = source
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	if enrich && len(items) > 0 {
		items = c.enricher.Enrich(ctx, query, items, scaled(fn, 70, 100))
	}

	// Enrichment stops early on cancellation; partial items stay out of the cache.
	if ctx.Err() == nil {
		c.cache.Set(ctx, key, items)
	}
	return items, nil
}

// scaled maps a searcher's local progress into the [lo,hi] slice of a
// 0..100 scale so that search and enrichment share one progress band.
func scaled(fn ProgressFunc, lo, hi int) ProgressFunc {
	return func(stage, message string, current, total int) {
		local := 0
		if total > 0 {
			local = max(0, min(100, current*100/total))
		}
		fn(stage, message, lo+(hi-lo)*local/100, 100)
	}
}
