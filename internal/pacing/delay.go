// Package pacing inserts randomized pauses before outbound searches so
// request timing does not look machine generated.
package pacing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Range is an inclusive delay interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Config configures a Manager. Sources overrides Default per source name.
type Config struct {
	Enabled bool
	Default Range
	Sources map[string]Range
}

// Manager picks and applies per-source delays. It is safe for concurrent use.
type Manager struct {
	enabled bool
	def     Range
	sources map[string]Range
	logger  *slog.Logger

	pick  func(r Range) time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Manager. A disabled manager never sleeps.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	sources := make(map[string]Range, len(cfg.Sources))
	for name, r := range cfg.Sources {
		sources[name] = normalize(r)
	}
	return &Manager{
		enabled: cfg.Enabled,
		def:     normalize(cfg.Default),
		sources: sources,
		logger:  logger,
		pick:    uniform,
		sleep:   sleepCtx,
	}
}

// RangeFor returns the delay interval that applies to source.
func (m *Manager) RangeFor(source string) Range {
	if r, ok := m.sources[source]; ok {
		return r
	}
	return m.def
}

// Next returns the delay that would be applied before the next search on
// source.
func (m *Manager) Next(source string) time.Duration {
	if m == nil || !m.enabled {
		return 0
	}
	return m.pick(m.RangeFor(source))
}

// Wait sleeps for a random delay drawn from the source's range. It returns
// early with ctx.Err() if the context is done.
func (m *Manager) Wait(ctx context.Context, source string) error {
	d := m.Next(source)
	if d <= 0 {
		return nil
	}
	m.logger.Debug("pacing delay", "source", source, "delay", d)
	return m.sleep(ctx, d)
}

func normalize(r Range) Range {
	if r.Min < 0 {
		r.Min = 0
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r
}

func uniform(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
