package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/storage"
)

func TestWriteResults_SinglePlatform(t *testing.T) {
	items := []model.ResultItem{
		{
			Title:         "Go 1.25 released",
			URL:           "https://go.dev/blog/go1.25",
			Source:        "Google",
			Date:          "2025-08-12",
			Snippet:       strings.Repeat("s", 200),
			Content:       "# Go 1.25",
			ContentStatus: model.ContentTruncated,
			Platform:      "google",
		},
		{Title: "", URL: "https://example.com", ContentStatus: model.ContentBlocked, Platform: "google"},
	}

	var buf bytes.Buffer
	if err := WriteResults(&buf, "golang", []string{"google"}, items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Found 2 result(s) for 'golang' on Google:",
		"1. **Go 1.25 released**",
		"   Source: Google",
		"   Date: 2025-08-12",
		"   Summary: " + strings.Repeat("s", 150) + "...",
		"   Link: https://go.dev/blog/go1.25",
		"   Content (truncated):\n   # Go 1.25",
		"2. **Untitled**",
		"   Content (blocked by anti-crawler page): unavailable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Platform:") {
		t.Errorf("single platform output should not label platforms")
	}
}

func TestWriteResults_MultiPlatform(t *testing.T) {
	items := []model.ResultItem{
		{Title: "a", URL: "https://a", Platform: "weixin"},
		{Title: "b", URL: "https://b", Platform: "google"},
	}
	out := FormatResults("q", []string{"weixin", "google"}, items)

	if !strings.Contains(out, "Found 2 result(s) for 'q' across Google, WeChat:") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "   Platform: WeChat") {
		t.Errorf("expected platform label:\n%s", out)
	}
}

func TestWriteResults_Empty(t *testing.T) {
	out := FormatResults("q", []string{"weixin", "duckduckgo"}, nil)
	if strings.TrimSpace(out) != "No results found for 'q' on WeChat, DuckDuckGo." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestWriteResults_LongContent(t *testing.T) {
	items := []model.ResultItem{{Title: "t", Content: strings.Repeat("x", 2500), ContentStatus: model.ContentOK}}
	out := FormatResults("q", []string{"google"}, items)
	if !strings.Contains(out, "[Content truncated for display, full length: 2500 characters]") {
		t.Errorf("expected display truncation note")
	}
}

func TestEstimateTime(t *testing.T) {
	tests := []struct {
		limit, sources int
		content        bool
		want           string
	}{
		{10, 1, true, "30-60 seconds"},
		{20, 1, true, "1-2 minutes"},
		{30, 1, true, "2-3 minutes"},
		{10, 1, false, "20-40 seconds"},
		{30, 1, false, "40-60 seconds"},
		{10, 3, false, "20-40 seconds per platform (3 platforms)"},
	}
	for _, tt := range tests {
		if got := EstimateTime(tt.limit, tt.sources, tt.content); got != tt.want {
			t.Errorf("EstimateTime(%d, %d, %v) = %q, want %q", tt.limit, tt.sources, tt.content, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if DisplayName("weixin") != "WeChat" || DisplayName("zhihu") != "Zhihu" || DisplayName("other") != "other" {
		t.Errorf("unexpected display names")
	}
}

func TestGenerateSummary(t *testing.T) {
	now := time.Now()

	records := []*storage.Record{
		{
			Status:    "completed",
			Results:   []model.ResultItem{{Title: "a"}, {Title: "b"}},
			CreatedAt: now,
		},
		{
			Status:    "completed",
			Results:   []model.ResultItem{{Title: "c"}},
			Failures:  []model.SourceFailure{{Source: "google", Error: "quota"}},
			CreatedAt: now.Add(1 * time.Second),
		},
		{
			Status:    "failed",
			Failures:  []model.SourceFailure{{Source: "google", Error: "quota"}, {Source: "weixin", Error: "blocked"}},
			CreatedAt: now.Add(2 * time.Second),
		},
	}

	summary := GenerateSummary(records)

	if summary.TotalJobs != 3 {
		t.Errorf("expected 3 jobs, got %d", summary.TotalJobs)
	}
	if summary.TotalResults != 3 {
		t.Errorf("expected 3 results, got %d", summary.TotalResults)
	}
	if summary.ByStatus["completed"] != 2 || summary.ByStatus["failed"] != 1 {
		t.Errorf("unexpected status counts %v", summary.ByStatus)
	}
	if summary.FailuresBySource["google"] != 2 {
		t.Errorf("expected 2 google failures, got %d", summary.FailuresBySource["google"])
	}
	if summary.Duration != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", summary.Duration)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, Summary{TotalJobs: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"TotalJobs": 5`) {
		t.Errorf("expected JSON to contain TotalJobs: 5")
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		TotalJobs: 5,
		ByStatus:  map[string]int{"completed": 4, "failed": 1},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Total Jobs:    5") {
		t.Errorf("expected text to contain Total Jobs: 5")
	}
	if !strings.Contains(out, "completed: 4") {
		t.Errorf("expected text to contain completed: 4")
	}
}

func TestWriteHTML(t *testing.T) {
	summary := Summary{
		TotalJobs:        10,
		ByStatus:         map[string]int{"failed": 2},
		FailuresBySource: map[string]int{"weixin": 2},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>Sift Search History</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(out, "weixin") || !strings.Contains(out, "color: red") {
		t.Errorf("expected HTML to contain weixin failures")
	}
}
