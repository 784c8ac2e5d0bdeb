// Package serp scrapes HTML search engine result pages. Each engine is a
// Config describing how to build the results URL and which selectors pick
// out the hits.
package serp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/scraper"
	"github.com/FranksOps/sift/internal/search"
	"github.com/PuerkitoBio/goquery"
)

// Fetcher is the part of scraper.Fetcher a Searcher needs.
type Fetcher interface {
	Fetch(ctx context.Context, platform, targetURL string) (*scraper.Page, error)
}

// Selectors locate result fields. Link, Snippet and Date are evaluated
// inside each Item; Title defaults to the link text.
type Selectors struct {
	Item    string
	Link    string
	Title   string
	Snippet string
	Date    string
}

// Config describes one result page layout.
type Config struct {
	// Name is the platform name used for block detection and user-agent pinning.
	Name string
	// Source is the human readable source stamped on every item.
	Source     string
	BaseURL    string
	MaxResults int
	// PerPage is the number of hits per results page; zero means the
	// engine is only ever asked for its first page.
	PerPage   int
	Selectors Selectors
	// PageURL builds the URL of the given 1-based results page.
	PageURL func(base, query string, page int) string
	// Link rewrites a resolved href, e.g. to unwrap redirect links.
	Link func(u *url.URL) string
	// Date normalizes the raw date text.
	Date func(raw string) string
}

// Searcher implements search.Searcher for an HTML results page.
type Searcher struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger
}

var _ search.Searcher = (*Searcher)(nil)

// New creates a Searcher for cfg.
func New(cfg Config, fetcher Fetcher, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 30
	}
	return &Searcher{cfg: cfg, fetcher: fetcher, logger: logger.With("platform", cfg.Name)}
}

// Search fetches result pages until limit items are collected, a page comes
// back empty, or MaxResults is reached.
func (s *Searcher) Search(ctx context.Context, query string, limit int, fn search.ProgressFunc) ([]model.ResultItem, error) {
	if limit > s.cfg.MaxResults {
		s.logger.Warn("limit capped", "requested", limit, "max", s.cfg.MaxResults)
		limit = s.cfg.MaxResults
	}
	if limit <= 0 {
		return nil, nil
	}

	pages := 1
	if s.cfg.PerPage > 0 {
		pages = (limit + s.cfg.PerPage - 1) / s.cfg.PerPage
	}

	var items []model.ResultItem
	seen := make(map[string]bool)
	for p := 1; p <= pages && len(items) < limit; p++ {
		if fn != nil {
			fn("searching", fmt.Sprintf("%s results page %d/%d", s.cfg.Source, p, pages), len(items), limit)
		}

		target := s.cfg.PageURL(s.cfg.BaseURL, query, p)
		page, err := s.fetcher.Fetch(ctx, s.cfg.Name, target)
		if err != nil {
			if len(items) == 0 || ctx.Err() != nil {
				return nil, fmt.Errorf("results page %d: %w", p, err)
			}
			s.logger.Warn("pagination stopped, returning partial results", "page", p, "collected", len(items), "err", err)
			break
		}

		found, err := s.parse(page)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, it := range found {
			if seen[it.URL] {
				continue
			}
			seen[it.URL] = true
			items = append(items, it)
			added++
		}
		s.logger.Debug("parsed results page", "page", p, "found", len(found), "added", added)
		if added == 0 {
			break
		}
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Searcher) parse(page *scraper.Page) ([]model.ResultItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	base, err := url.Parse(page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	sel := s.cfg.Selectors
	var out []model.ResultItem
	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(sel.Link).First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		title := CleanText(link.Text())
		if sel.Title != "" {
			if t := CleanText(item.Find(sel.Title).First().Text()); t != "" {
				title = t
			}
		}
		if title == "" {
			return
		}

		resolved, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		target := resolved.String()
		if s.cfg.Link != nil {
			target = s.cfg.Link(resolved)
		}

		it := model.ResultItem{
			Title:  title,
			URL:    target,
			Source: s.cfg.Source,
		}
		if sel.Snippet != "" {
			it.Snippet = CleanText(item.Find(sel.Snippet).First().Text())
		}
		if sel.Date != "" {
			date := item.Find(sel.Date).First()
			raw := date.Text()
			if strings.TrimSpace(raw) == "" {
				raw, _ = date.Html()
			}
			it.Date = CleanText(raw)
			if s.cfg.Date != nil {
				it.Date = s.cfg.Date(raw)
			}
		}
		out = append(out, it)
	})
	return out, nil
}

// CleanText collapses whitespace runs into single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
