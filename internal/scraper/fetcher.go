// Package scraper fetches web pages the way a browser would: rotating
// User-Agents and proxies, browser TLS fingerprints, polite rate limiting
// and detection of anti-crawler responses.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/sift/internal/bypass"
	"github.com/FranksOps/sift/internal/fingerprint"
	"github.com/FranksOps/sift/internal/metrics"
	"github.com/FranksOps/sift/pkg/httpclient"
	"github.com/FranksOps/sift/pkg/proxy"
	"github.com/FranksOps/sift/pkg/ratelimit"
	"github.com/FranksOps/sift/pkg/useragent"
	"github.com/google/uuid"
)

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	// Limiter paces every outbound request; nil means unlimited.
	Limiter *ratelimit.Bucket
	// Analyzer classifies block pages; nil runs only the vendor detectors.
	Analyzer *bypass.Analyzer
	// Header is sent with every request in addition to the browser defaults.
	Header       http.Header
	MaxBodyBytes int64
}

// Page is the outcome of a single fetch.
type Page struct {
	ID         string
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	FetchedAt  time.Time
	Detection  *bypass.Detection
}

// Fetcher performs single URL fetches using the configured bypass strategies.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher initializes a new Fetcher with the given configuration.
// By holding a single client across requests, cookie jars (if configured) persist for the lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}

	// One transport per fetcher keeps connection pooling; the proxy for a
	// request travels in its context.
	transport, err := fingerprint.Transport(fingerprint.Options{
		Profile: cfg.Fingerprint,
		Proxy:   proxy.ProxyFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	header := http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
		"Accept-Language": {"zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7"},
	}
	for k, v := range cfg.Header {
		header[http.CanonicalHeaderKey(k)] = v
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
		Header:       header,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{
		config: cfg,
		client: client,
	}, nil
}

// Fetch GETs targetURL on behalf of platform (which may be empty). It
// returns a *bypass.BlockedError together with the page when the response
// is recognized as a block page.
func (f *Fetcher) Fetch(ctx context.Context, platform, targetURL string) (*Page, error) {
	page, err := f.get(ctx, platform, targetURL, nil)
	if err != nil {
		return page, err
	}

	in := &bypass.Input{
		URL:        page.FinalURL,
		StatusCode: page.StatusCode,
		Headers:    page.Header,
		Body:       page.Body,
	}
	detection := ""
	if det, ok := f.config.Analyzer.Analyze(platform, in); ok {
		page.Detection = &det
		detection = string(det.Kind) + ":" + det.Source
		err = &bypass.BlockedError{Detection: det, URL: page.FinalURL}
	}
	metrics.RecordFetch(hostOf(targetURL), strconv.Itoa(page.StatusCode), detection, page.Duration)
	return page, err
}

// get performs the request without block detection.
func (f *Fetcher) get(ctx context.Context, platform, targetURL string, header http.Header) (*Page, error) {
	page := &Page{
		ID:        uuid.NewString(),
		URL:       targetURL,
		FinalURL:  targetURL,
		FetchedAt: time.Now().UTC(),
	}

	if err := f.config.Limiter.Take(ctx); err != nil {
		return page, fmt.Errorf("fetch rate limit: %w", err)
	}

	activeProxy := f.config.ProxyPool.Next()
	if activeProxy != nil {
		ctx = proxy.WithProxy(ctx, activeProxy)
	}

	h := http.Header{"User-Agent": {f.config.UAPool.Pick(platform)}}
	for k, v := range header {
		h[k] = v
	}

	start := time.Now()
	resp, err := f.client.Get(ctx, targetURL, h)
	page.Duration = time.Since(start)
	if err != nil {
		if activeProxy != nil && !errors.Is(err, context.Canceled) {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
		}
		metrics.RecordFetch(hostOf(targetURL), "error", "", page.Duration)
		return page, fmt.Errorf("fetch %s: %w", targetURL, err)
	}
	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	page.StatusCode = resp.StatusCode
	page.Header = resp.Header
	page.Body = resp.Body
	page.FinalURL = resp.FinalURL
	return page, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
