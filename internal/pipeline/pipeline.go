// Package pipeline enriches search results with the content of the pages
// they link to.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/sift/internal/analyzer"
	"github.com/FranksOps/sift/internal/bypass"
	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/scraper"
	"github.com/FranksOps/sift/internal/search"
)

// DefaultSelectors are tried, in order, after any platform selectors.
var DefaultSelectors = []string{"article", "main", "body"}

// noise is removed before extraction.
const noise = "script, style, noscript, iframe, nav, header, footer, form, svg"

// Config tunes content enrichment.
type Config struct {
	// Concurrency bounds parallel page fetches. Defaults to 4.
	Concurrency int
	// MaxContentChars caps the markdown kept per item. Defaults to 5000.
	MaxContentChars int
	// ExcerptChars caps the excerpt used for items without a snippet.
	ExcerptChars  int
	RespectRobots bool
	// RobotsAgent is the user agent matched against robots.txt groups.
	RobotsAgent string
	// Selectors lists content selectors per platform.
	Selectors map[string][]string
}

// Enricher implements search.ContentEnricher.
type Enricher struct {
	cfg     Config
	fetcher *scraper.Fetcher
	robots  *scraper.RobotsTxtAuditor
	logger  *slog.Logger
}

var _ search.ContentEnricher = (*Enricher)(nil)

// New creates an Enricher fetching through fetcher.
func New(cfg Config, fetcher *scraper.Fetcher, logger *slog.Logger) *Enricher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 5000
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = 300
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "sift"
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enricher{cfg: cfg, fetcher: fetcher, logger: logger}
	if cfg.RespectRobots {
		e.robots = scraper.NewRobotsTxtAuditor(fetcher, logger)
	}
	return e
}

// Enrich fetches every item's page and fills Content and ContentStatus.
// It never fails: per-item problems are recorded in ContentStatus.
func (e *Enricher) Enrich(ctx context.Context, query string, items []model.ResultItem, fn search.ProgressFunc) []model.ResultItem {
	out := make([]model.ResultItem, len(items))
	copy(out, items)
	if len(out) == 0 {
		return out
	}

	var (
		mu   sync.Mutex
		done int
	)
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		if fn != nil {
			fn("fetching", fmt.Sprintf("Fetching content %d/%d", done, len(out)), done, len(out))
		}
	}

	if fn != nil {
		fn("fetching", fmt.Sprintf("Fetching content 0/%d", len(out)), 0, len(out))
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := range out {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.enrichOne(ctx, query, &out[i])
			report()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) enrichOne(ctx context.Context, query string, item *model.ResultItem) {
	if item.URL == "" {
		item.ContentStatus = model.ContentFetchFailed
		return
	}
	logger := e.logger.With("url", item.URL, "platform", item.Platform)

	if e.robots != nil {
		allowed, err := e.robots.IsAllowed(ctx, item.URL, e.cfg.RobotsAgent)
		if err != nil {
			logger.Debug("robots check failed", "err", err)
			item.ContentStatus = model.ContentFetchFailed
			return
		}
		if !allowed {
			item.ContentStatus = model.ContentDisallowed
			return
		}
	}

	page, err := e.fetcher.Fetch(ctx, item.Platform, item.URL)
	if err != nil {
		if errors.Is(err, bypass.ErrBlocked) {
			logger.Info("content fetch blocked", "err", err)
			item.ContentStatus = model.ContentBlocked
			return
		}
		logger.Debug("content fetch failed", "err", err)
		item.ContentStatus = model.ContentFetchFailed
		return
	}
	if page.StatusCode >= 400 {
		item.ContentStatus = model.ContentFetchFailed
		return
	}

	content, text, err := e.extract(page, item.Platform)
	if err != nil {
		logger.Debug("content extraction failed", "err", err)
		item.ContentStatus = model.ContentFetchFailed
		return
	}
	if content == "" {
		item.ContentStatus = model.ContentEmpty
		return
	}

	item.Content, item.ContentStatus = Truncate(content, e.cfg.MaxContentChars)
	if strings.TrimSpace(item.Snippet) == "" {
		item.Snippet = analyzer.Excerpt(text, query, e.cfg.ExcerptChars)
	}
}

// extract returns the main content of page as markdown together with its
// plain text.
func (e *Enricher) extract(page *scraper.Page, platform string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page.Body)))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noise).Remove()

	selectors := append(append([]string{}, e.cfg.Selectors[platform]...), DefaultSelectors...)
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		text := strings.TrimSpace(node.Text())
		if text == "" {
			continue
		}
		html, err := goquery.OuterHtml(node)
		if err != nil {
			return "", "", fmt.Errorf("render %s: %w", sel, err)
		}
		converter := md.NewConverter(page.FinalURL, true, nil)
		markdown, err := converter.ConvertString(html)
		if err != nil {
			return "", "", fmt.Errorf("convert to markdown: %w", err)
		}
		markdown = strings.TrimSpace(markdown)
		if markdown == "" {
			markdown = text
		}
		return markdown, text, nil
	}
	return "", "", nil
}

// Truncate caps s at maxChars runes.
func Truncate(s string, maxChars int) (string, model.ContentStatus) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, model.ContentOK
	}
	return strings.TrimSpace(string([]rune(s)[:maxChars])) + "...", model.ContentTruncated
}
