// Package google searches through the Google Custom Search JSON API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/pkg/httpclient"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://www.googleapis.com/customsearch/v1"
	DefaultPerRequest = 10
	DefaultMaxResults = 30
	DisplayName       = "Google"
)

// ErrMissingCredentials is returned when no API key or engine id is configured.
var ErrMissingCredentials = errors.New("google: APIKEY_GOOGLE_CUSTOM_SEARCH and APIKEY_GOOGLE_SEARCH_ID must be set")

// Config configures the searcher.
type Config struct {
	APIKey   string
	EngineID string
	BaseURL  string
	// PerRequest is the page size sent as num; the API allows at most 10.
	PerRequest int
	MaxResults int
	// QPS throttles outbound API calls; zero means unthrottled.
	QPS        float64
	Retries    int
	RetryDelay time.Duration
}

// Searcher implements search.Searcher against the Custom Search API.
type Searcher struct {
	cfg     Config
	client  *httpclient.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ search.Searcher = (*Searcher)(nil)

// New creates a Searcher. A nil client gets a default one.
func New(cfg Config, client *httpclient.Client, logger *slog.Logger) (*Searcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PerRequest <= 0 || cfg.PerRequest > 10 {
		cfg.PerRequest = DefaultPerRequest
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		c, err := httpclient.New(httpclient.Config{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("google: create client: %w", err)
		}
		client = c
	}

	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	return &Searcher{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

type response struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Pagemap struct {
			Metatags []map[string]any `json:"metatags"`
		} `json:"pagemap"`
	} `json:"items"`
}

// Search pages through the API until limit items are collected or the API
// runs out of results. A page that fails after some results were collected
// ends the search with the partial list.
func (s *Searcher) Search(ctx context.Context, query string, limit int, fn search.ProgressFunc) ([]model.ResultItem, error) {
	if s.cfg.APIKey == "" || s.cfg.EngineID == "" {
		return nil, ErrMissingCredentials
	}
	if limit > s.cfg.MaxResults {
		s.logger.Warn("google limit capped", "requested", limit, "max", s.cfg.MaxResults)
		limit = s.cfg.MaxResults
	}
	if limit <= 0 {
		return nil, nil
	}

	requests := (limit + s.cfg.PerRequest - 1) / s.cfg.PerRequest
	var items []model.ResultItem
	for i := 0; i < requests && len(items) < limit; i++ {
		num := min(s.cfg.PerRequest, limit-len(items))
		if fn != nil {
			fn("searching", fmt.Sprintf("Google API request %d/%d", i+1, requests), len(items), limit)
		}

		page, err := s.page(ctx, query, i*s.cfg.PerRequest+1, num)
		if err != nil {
			if len(items) == 0 || ctx.Err() != nil {
				return nil, err
			}
			s.logger.Warn("google pagination stopped, returning partial results", "collected", len(items), "err", err)
			break
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	if fn != nil {
		fn("searching", fmt.Sprintf("Google returned %d results", len(items)), len(items), limit)
	}
	return items, nil
}

// page fetches one API page, retrying rate limits, server errors and
// transport failures with exponential backoff.
func (s *Searcher) page(ctx context.Context, query string, start, num int) ([]model.ResultItem, error) {
	params := url.Values{
		"key":   {s.cfg.APIKey},
		"cx":    {s.cfg.EngineID},
		"q":     {query},
		"num":   {strconv.Itoa(num)},
		"start": {strconv.Itoa(start)},
	}
	target := s.cfg.BaseURL + "?" + params.Encode()

	delay := s.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt < s.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("google: throttle: %w", err)
		}

		var resp response
		err := s.client.GetJSON(ctx, target, &resp)
		if err == nil {
			return convert(resp), nil
		}
		lastErr = err

		var se *httpclient.StatusError
		if errors.As(err, &se) && !retryable(se.StatusCode) {
			return nil, fmt.Errorf("google: %s", describe(se))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("google request failed, retrying", "attempt", attempt+1, "of", s.cfg.Retries, "err", err)
	}
	return nil, fmt.Errorf("google: giving up after %d attempts: %w", s.cfg.Retries, lastErr)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func describe(se *httpclient.StatusError) string {
	switch se.StatusCode {
	case http.StatusBadRequest:
		return "invalid request (400)"
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("invalid API credentials (%d)", se.StatusCode)
	}
	return fmt.Sprintf("HTTP %d", se.StatusCode)
}

func convert(resp response) []model.ResultItem {
	out := make([]model.ResultItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		var date string
		if tags := it.Pagemap.Metatags; len(tags) > 0 {
			date, _ = tags[0]["article:published_time"].(string)
		}
		out = append(out, model.ResultItem{
			Title:   it.Title,
			URL:     it.Link,
			Source:  DisplayName,
			Snippet: it.Snippet,
			Date:    date,
		})
	}
	return out
}
