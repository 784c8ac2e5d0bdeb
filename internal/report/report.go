// Package report renders search results and archive summaries for people.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/storage"
)

const (
	snippetDisplayChars = 150
	contentDisplayChars = 2000
)

var displayNames = map[string]string{
	"weixin":     "WeChat",
	"zhihu":      "Zhihu",
	"google":     "Google",
	"duckduckgo": "DuckDuckGo",
}

// DisplayName returns the user facing name of a platform.
func DisplayName(platform string) string {
	if d, ok := displayNames[platform]; ok {
		return d
	}
	return platform
}

var statusTags = map[model.ContentStatus]string{
	model.ContentTruncated:   " (truncated)",
	model.ContentFetchFailed: " (content fetch failed)",
	model.ContentBlocked:     " (blocked by anti-crawler page)",
	model.ContentDisallowed:  " (disallowed by robots.txt)",
	model.ContentEmpty:       " (no content extracted)",
}

type resultsView struct {
	Query     string
	Platforms string
	Multi     bool
	Items     []model.ResultItem
}

const resultsTmpl = `{{if not .Items -}}
No results found for '{{.Query}}' on {{.Platforms}}.
{{else -}}
Found {{len .Items}} result(s) for '{{.Query}}' {{if .Multi}}across{{else}}on{{end}} {{.Platforms}}:
{{range $i, $it := .Items}}
{{inc $i}}. **{{or $it.Title "Untitled"}}**
{{- if $.Multi}}{{with $it.Platform}}
   Platform: {{display .}}{{end}}{{end}}
{{- with $it.Source}}
   Source: {{.}}{{end}}
{{- with $it.Date}}
   Date: {{.}}{{end}}
{{- with $it.Snippet}}
   Summary: {{clip . 150}}{{end}}
{{- with $it.URL}}
   Link: {{.}}{{end}}
{{- if $it.Content}}
   Content{{tag $it.ContentStatus}}:
   {{clip $it.Content 2000}}
{{- if gt (runes $it.Content) 2000}}
   [Content truncated for display, full length: {{runes $it.Content}} characters]{{end}}
{{- else if $it.ContentStatus}}
   Content{{tag $it.ContentStatus}}: unavailable{{end}}
{{end}}{{end}}`

var results = template.Must(template.New("results").Funcs(template.FuncMap{
	"inc":     func(i int) int { return i + 1 },
	"display": DisplayName,
	"clip":    clip,
	"runes":   utf8.RuneCountInString,
	"tag":     func(s model.ContentStatus) string { return statusTags[s] },
}).Parse(resultsTmpl))

// WriteResults renders items as numbered plain text. sources names the
// platforms that were searched, used when items do not reveal them.
func WriteResults(w io.Writer, query string, sources []string, items []model.ResultItem) error {
	view := resultsView{Query: query, Items: items}

	var seen []string
	for _, it := range items {
		if it.Platform != "" && !slices.Contains(seen, it.Platform) {
			seen = append(seen, it.Platform)
		}
	}
	names := sources
	if len(seen) > 1 {
		view.Multi = true
		slices.Sort(seen)
		names = seen
	}
	display := make([]string, len(names))
	for i, n := range names {
		display[i] = DisplayName(n)
	}
	view.Platforms = strings.Join(display, ", ")

	if err := results.Execute(w, view); err != nil {
		return fmt.Errorf("render results: %w", err)
	}
	return nil
}

// FormatResults is WriteResults into a string.
func FormatResults(query string, sources []string, items []model.ResultItem) string {
	var b strings.Builder
	if err := WriteResults(&b, query, sources, items); err != nil {
		return err.Error()
	}
	return b.String()
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// EstimateTime gives a rough completion estimate for a job.
func EstimateTime(limit, sources int, includeContent bool) string {
	var est string
	switch {
	case includeContent && limit <= 10:
		est = "30-60 seconds"
	case includeContent && limit <= 20:
		est = "1-2 minutes"
	case includeContent:
		est = "2-3 minutes"
	case limit <= 10:
		est = "20-40 seconds"
	default:
		est = "40-60 seconds"
	}
	if sources > 1 {
		est = fmt.Sprintf("%s per platform (%d platforms)", est, sources)
	}
	return est
}

// WriteJSON writes v to the provided writer as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Summary contains aggregated metrics about archived jobs.
type Summary struct {
	TotalJobs        int
	TotalResults     int
	ByStatus         map[string]int
	FailuresBySource map[string]int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}

// GenerateSummary processes archived job records to generate summary metrics.
func GenerateSummary(records []*storage.Record) Summary {
	s := Summary{
		ByStatus:         make(map[string]int),
		FailuresBySource: make(map[string]int),
	}

	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	for _, r := range records {
		s.TotalJobs++
		s.TotalResults += len(r.Results)
		s.ByStatus[r.Status]++
		for _, f := range r.Failures {
			s.FailuresBySource[f.Source]++
		}

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteText writes a human-readable archive summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Sift Search History
-------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Span:          {{.Duration}}
Total Jobs:    {{.TotalJobs}}
Total Results: {{.TotalResults}}

Jobs By Status:
{{- range $status, $count := .ByStatus}}
  {{$status}}: {{$count}}
{{- else}}
  None
{{- end}}

Source Failures:
{{- range $src, $count := .FailuresBySource}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML archive report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Sift Search History</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Sift Search History</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Jobs</div>
    <div class="stat-val">{{.TotalJobs}}</div>
  </div>
  <div class="stat-card">
    <div>Results</div>
    <div class="stat-val">{{.TotalResults}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if gt (index .ByStatus "failed") 0}}red{{else}}green{{end}};">{{index .ByStatus "failed"}}</div>
  </div>

  <h3>Jobs By Status</h3>
  <table>
    <tr><th>Status</th><th>Count</th></tr>
    {{- range $status, $count := .ByStatus}}
    <tr><td>{{$status}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Source Failures</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .FailuresBySource}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}

	return nil
}
