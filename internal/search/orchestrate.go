package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/FranksOps/sift/internal/model"
)

// Request describes a search across one or more sources.
type Request struct {
	Query          string
	Sources        []string
	Limit          int
	IncludeContent bool
	UseCache       bool
}

// Outcome is the result of a search where at least one source succeeded.
type Outcome struct {
	Items     []model.ResultItem
	Succeeded []string
	Failures  []model.SourceFailure
	Summary   string
}

// Quotas splits limit across n sources: each gets floor(limit/n) and the
// last one also receives the remainder. Giving the remainder to the last
// source is arbitrary and kept only for compatibility with existing clients.
func Quotas(limit, n int) []int {
	if n <= 0 {
		return nil
	}
	q := make([]int, n)
	base := limit / n
	for i := range q {
		q[i] = base
	}
	q[n-1] += limit % n
	return q
}

// Run searches every source in req.Sources sequentially. Progress is
// reported through fn in overall units of len(sources)*100. cancelled is
// consulted before each source; once it returns true Run stops with
// ErrCancelled. A failing source does not stop the others. If every source
// fails Run returns an *AggregateError.
func (c *Coordinator) Run(ctx context.Context, req Request, fn ProgressFunc, cancelled func() bool) (*Outcome, error) {
	if fn == nil {
		fn = func(string, string, int, int) {}
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	n := len(req.Sources)
	if n == 0 {
		return nil, &ValidationError{Field: "sources", Reason: "no sources selected"}
	}

	quotas := Quotas(req.Limit, n)
	opts := Options{UseCache: req.UseCache, IncludeContent: req.IncludeContent}
	out := &Outcome{}
	var all []model.ResultItem
	var failures []*SourceError

	if n > 1 {
		fn("multi_source_start", fmt.Sprintf("Searching %d sources", n), 0, n*100)
	}

	for i, source := range req.Sources {
		if cancelled() {
			c.logger.Info("search cancelled", "query", req.Query, "next_source", source)
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		agg := NewProgressAggregator(i, n, source, fn)
		if quotas[i] <= 0 {
			agg.Report("skipped", "No result quota left for this source", 100, 100)
			out.Succeeded = append(out.Succeeded, source)
			continue
		}

		agg.Report("start", fmt.Sprintf("Searching for up to %d results", quotas[i]), 0, 100)
		items, err := c.Search(ctx, source, req.Query, quotas[i], opts, agg.Report)
		if err != nil {
			c.logger.Warn("source failed", "source", source, "query", req.Query, "err", err)
			failures = append(failures, &SourceError{Source: source, Err: err})
			out.Failures = append(out.Failures, model.SourceFailure{Source: source, Error: err.Error()})
			agg.Report("failed", err.Error(), 100, 100)
			continue
		}
		out.Succeeded = append(out.Succeeded, source)
		all = append(all, items...)
		agg.Report("completed", fmt.Sprintf("Found %d results", len(items)), 100, 100)
	}

	if len(out.Succeeded) == 0 {
		if n == 1 {
			return nil, failures[0]
		}
		return nil, &AggregateError{Failures: failures}
	}

	out.Items = Dedupe(all)
	if req.Limit > 0 && len(out.Items) > req.Limit {
		out.Items = out.Items[:req.Limit]
	}
	out.Summary = summarize(out, n)

	final := "completed"
	if n > 1 {
		final = "multi_source_completed"
	}
	fn(final, out.Summary, n*100, n*100)
	return out, nil
}

// Dedupe removes items whose canonical URL was already seen, keeping the
// first occurrence. Items without a URL are always kept.
func Dedupe(items []model.ResultItem) []model.ResultItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]model.ResultItem, 0, len(items))
	for _, it := range items {
		key := CanonicalURL(it.URL)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// CanonicalURL lowercases scheme and host, drops the fragment, default
// ports and a trailing slash. Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

func summarize(out *Outcome, n int) string {
	s := fmt.Sprintf("Found %d results from %d/%d sources", len(out.Items), len(out.Succeeded), n)
	if len(out.Failures) > 0 {
		parts := make([]string, len(out.Failures))
		for i, f := range out.Failures {
			parts[i] = f.Source + ": " + f.Error
		}
		s += " (failed: " + strings.Join(parts, "; ") + ")"
	}
	return s
}
