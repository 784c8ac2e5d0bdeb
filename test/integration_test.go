//go:build integration

package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/sift/internal/bypass"
	"github.com/FranksOps/sift/internal/cache"
	"github.com/FranksOps/sift/internal/fingerprint"
	"github.com/FranksOps/sift/internal/model"
	"github.com/FranksOps/sift/internal/pipeline"
	"github.com/FranksOps/sift/internal/platforms"
	"github.com/FranksOps/sift/internal/runner"
	"github.com/FranksOps/sift/internal/scraper"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/storage"
	"github.com/FranksOps/sift/internal/storage/sqlite"
	"github.com/FranksOps/sift/internal/task"
	"github.com/FranksOps/sift/pkg/proxy"
	"github.com/FranksOps/sift/pkg/ratelimit"
	"github.com/FranksOps/sift/pkg/useragent"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stack struct {
	svc     *runner.Service
	archive storage.Backend
}

// newStack wires the real components the way the binary does, against
// whatever platforms cfg enables.
func newStack(t *testing.T, cfg platforms.Config, fetchCfg scraper.FetchConfig) *stack {
	t.Helper()
	if fetchCfg.Fingerprint == "" {
		fetchCfg.Fingerprint = fingerprint.ProfileGo
	}
	fetchCfg.Timeout = 5 * time.Second
	fetchCfg.Analyzer = bypass.NewAnalyzer(bypass.DefaultConfig())

	fetcher, err := scraper.NewFetcher(fetchCfg)
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	reg, err := platforms.Build(cfg, fetcher, logger)
	if err != nil {
		t.Fatalf("failed to build platforms: %v", err)
	}

	archive, err := sqlite.New(filepath.Join(t.TempDir(), "sift.db"))
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}

	resultCache := cache.New(cache.NewMemoryStore(), time.Minute, logger)
	coord := search.NewCoordinator(search.Config{
		Registry: reg,
		Cache:    resultCache,
		Limiter: ratelimit.NewManager(
			ratelimit.PerMinute(60, ratelimit.PolicyReject),
			ratelimit.PerMinute(20, ratelimit.PolicyReject),
			nil,
		),
		Enricher: pipeline.New(pipeline.Config{RespectRobots: true}, fetcher, logger),
		Logger:   logger,
	})
	svc := runner.NewService(runner.Config{
		GracePeriod: 50 * time.Millisecond,
		UseCache:    true,
	}, task.NewStore(logger), coord, resultCache, archive, logger)
	if err := svc.Start(); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		_ = archive.Close()
	})
	return &stack{svc: svc, archive: archive}
}

func (s *stack) await(t *testing.T, id string) runner.JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		v := s.svc.GetJobStatus(id)
		if v.Status != string(task.StatusRunning) {
			return v
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return runner.JobView{}
}

func TestIntegration_SearchWithContent(t *testing.T) {
	var serpHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&serpHits, 1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<div class="result"><a class="result__a" href="/article">Go article</a>
				<a class="result__snippet">About Go</a></div>
			<div class="result"><a class="result__a" href="/guarded">Guarded</a></div>
			<div class="result"><a class="result__a" href="/private">Private</a></div>
		</body></html>`)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><nav>menu</nav><article><h1>Go</h1><p>Go is an open source language.</p></article></body></html>`)
	})
	mux.HandleFunc("/guarded", func(w http.ResponseWriter, r *http.Request) {
		// Simulate a bot defense page from Cloudflare
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><body>cf-browser-verification</body></html>`)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("robots.txt disallowed path was fetched")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := newStack(t, platforms.Config{
		DuckDuckGo: platforms.SERPConfig{Enabled: true, BaseURL: ts.URL + "/html/"},
	}, scraper.FetchConfig{})

	include := true
	resp, err := s.svc.StartJob(context.Background(), runner.StartRequest{
		Query:          "golang",
		Sources:        "duckduckgo",
		IncludeContent: &include,
	})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	v := s.await(t, resp.ID)
	if v.Status != "completed" {
		t.Fatalf("expected completed job, got %s (%s)", v.Status, v.Error)
	}
	if len(v.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(v.Results))
	}

	want := map[string]model.ContentStatus{
		"/article": model.ContentOK,
		"/guarded": model.ContentBlocked,
		"/private": model.ContentDisallowed,
	}
	for _, item := range v.Results {
		path := strings.TrimPrefix(item.URL, ts.URL)
		if item.ContentStatus != want[path] {
			t.Errorf("%s: expected content status %q, got %q", path, want[path], item.ContentStatus)
		}
		if item.Platform != "duckduckgo" {
			t.Errorf("%s: expected platform duckduckgo, got %q", path, item.Platform)
		}
	}
	if !strings.Contains(v.Results[0].Content, "Go is an open source language.") {
		t.Errorf("expected article content, got %q", v.Results[0].Content)
	}
	if strings.Contains(v.Results[0].Content, "menu") {
		t.Errorf("expected navigation to be stripped")
	}

	// The archive write happens right after the job turns terminal.
	var recs []*storage.Record
	for i := 0; i < 50; i++ {
		recs, err = s.archive.Query(context.Background(), storage.Filter{Status: "completed"})
		if err == nil && len(recs) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(recs) != 1 || len(recs[0].Results) != 3 {
		t.Fatalf("expected one archived job with 3 results, got %+v", recs)
	}

	// An identical request is served from the result cache.
	resp, err = s.svc.StartJob(context.Background(), runner.StartRequest{
		Query:          "golang",
		Sources:        "duckduckgo",
		IncludeContent: &include,
	})
	if err != nil {
		t.Fatalf("start second job: %v", err)
	}
	if v := s.await(t, resp.ID); v.Count != 3 {
		t.Errorf("expected cached results, got %d", v.Count)
	}
	if hits := atomic.LoadInt32(&serpHits); hits != 1 {
		t.Errorf("expected one results page fetch, got %d", hits)
	}
}

func weixinPage(from, to int) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="news-list">`)
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, `<li><h3><a href="/link?id=%d">Article %d</a></h3><p class="txt-info">Summary %d</p></li>`, i, i, i)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func TestIntegration_CookieJarPersistence(t *testing.T) {
	// The results server hands out a session cookie on the first page and
	// redirects to its antispider page when a later page arrives without it.
	mux := http.NewServeMux()
	mux.HandleFunc("/weixin", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			http.SetCookie(w, &http.Cookie{Name: "SNUID", Value: "123456", Path: "/"})
			fmt.Fprint(w, weixinPage(1, 10))
		default:
			if c, err := r.Cookie("SNUID"); err != nil || c.Value != "123456" {
				http.Redirect(w, r, "/antispider/?from=weixin", http.StatusFound)
				return
			}
			fmt.Fprint(w, weixinPage(11, 20))
		}
	})
	mux.HandleFunc("/antispider/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>请输入验证码</body></html>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := newStack(t, platforms.Config{
		Weixin: platforms.SERPConfig{Enabled: true, BaseURL: ts.URL + "/weixin"},
	}, scraper.FetchConfig{UseCookieJar: true})

	include := false
	resp, err := s.svc.StartJob(context.Background(), runner.StartRequest{
		Query:          "golang",
		Sources:        "weixin",
		Limit:          20,
		IncludeContent: &include,
	})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	v := s.await(t, resp.ID)
	if v.Status != "completed" {
		t.Fatalf("expected completed job, got %s (%s)", v.Status, v.Error)
	}
	if v.Count != 20 {
		t.Errorf("expected both result pages thanks to the cookie jar, got %d results", v.Count)
	}
	if !strings.HasPrefix(v.Results[0].URL, ts.URL+"/link?id=") {
		t.Errorf("expected link resolved against the results page, got %q", v.Results[0].URL)
	}
}

func TestIntegration_ProxyRotation(t *testing.T) {
	var proxyHits int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxyHits, 1)
		if got := r.Header.Get("User-Agent"); got != "IntegrationTest-UA" {
			t.Errorf("expected pooled user agent, got %q", got)
		}
		fmt.Fprint(w, `<html><body><div class="result"><a class="result__a" href="https://go.dev/">Go</a></div></body></html>`)
	}))
	defer proxySrv.Close()

	pool := proxy.NewPool(proxy.Config{})
	if err := pool.Add(proxySrv.URL); err != nil {
		t.Fatalf("add proxy: %v", err)
	}

	// A non-local host forces the request through the proxy.
	s := newStack(t, platforms.Config{
		DuckDuckGo: platforms.SERPConfig{Enabled: true, BaseURL: "http://example.com/html/"},
	}, scraper.FetchConfig{
		ProxyPool: pool,
		UAPool:    useragent.NewPool([]string{"IntegrationTest-UA"}),
	})

	include := false
	resp, err := s.svc.StartJob(context.Background(), runner.StartRequest{
		Query:          "golang",
		Sources:        "duckduckgo",
		IncludeContent: &include,
	})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	v := s.await(t, resp.ID)
	if v.Status != "completed" || v.Count != 1 {
		t.Fatalf("expected one result through the proxy, got %s/%d (%s)", v.Status, v.Count, v.Error)
	}
	if atomic.LoadInt32(&proxyHits) == 0 {
		t.Errorf("expected proxy server to be hit, got 0")
	}
	if snap := pool.Snapshot(); snap[0].Successes == 0 {
		t.Errorf("expected proxy success to be recorded")
	}
}
