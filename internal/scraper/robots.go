package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsTxtAuditor fetches and caches robots.txt per host.
type RobotsTxtAuditor struct {
	fetcher *Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsTxtAuditor creates a new instance.
func NewRobotsTxtAuditor(fetcher *Fetcher, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsTxtAuditor{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed determines if the given URL is allowed by the host's robots.txt
// for the provided User-Agent. Hosts whose robots.txt cannot be fetched or
// parsed are treated as allowing everything.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return false, fmt.Errorf("invalid url %q: missing scheme or host", targetURL)
	}

	data := r.robots(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}
	return data.FindGroup(userAgent).Test(u.EscapedPath()), nil
}

// robots returns the parsed robots.txt for host, fetching it at most once
// even under concurrent callers. nil means no restrictions.
func (r *RobotsTxtAuditor) robots(ctx context.Context, host string) *robotstxt.RobotsData {
	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data
	}

	v, _, _ := r.group.Do(host, func() (any, error) {
		data, err := r.fetch(ctx, host)
		if err != nil {
			r.logger.Debug("robots.txt unavailable, defaulting to allow", "host", host, "err", err)
		}
		// A cancelled lookup is retried on the next call.
		if ctx.Err() == nil {
			r.mu.Lock()
			r.cache[host] = data
			r.mu.Unlock()
		}
		return data, nil
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data
}

func (r *RobotsTxtAuditor) fetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	page, err := r.fetcher.get(ctx, "", host+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	if page.StatusCode >= 400 {
		return nil, nil
	}
	parsed, err := robotstxt.FromStatusAndBytes(page.StatusCode, page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return parsed, nil
}
