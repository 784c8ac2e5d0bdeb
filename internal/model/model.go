// Package model holds the value types shared by the search, task and
// storage layers.
package model

// ContentStatus describes the outcome of fetching the full content behind a
// result link.
type ContentStatus string

const (
	ContentOK          ContentStatus = "ok"
	ContentTruncated   ContentStatus = "truncated"
	ContentEmpty       ContentStatus = "empty"
	ContentFetchFailed ContentStatus = "fetch_failed"
	ContentBlocked     ContentStatus = "blocked"
	ContentDisallowed  ContentStatus = "disallowed"
)

// ResultItem is a single normalized search hit.
type ResultItem struct {
	Title         string        `json:"title"`
	URL           string        `json:"url"`
	Source        string        `json:"source,omitempty"`
	Date          string        `json:"date,omitempty"`
	Snippet       string        `json:"snippet,omitempty"`
	Content       string        `json:"content,omitempty"`
	ContentStatus ContentStatus `json:"content_status,omitempty"`
	Platform      string        `json:"platform"`
}

// Request is the immutable description of a search job.
type Request struct {
	Query          string   `json:"query"`
	Sources        []string `json:"sources"`
	Limit          int      `json:"limit"`
	IncludeContent bool     `json:"include_content"`
}

// SourceFailure records why one source of a multi-source search failed.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}
