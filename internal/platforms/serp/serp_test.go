package serp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/FranksOps/sift/internal/bypass"
	"github.com/FranksOps/sift/internal/fingerprint"
	"github.com/FranksOps/sift/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageFetcher serves canned bodies keyed by page number.
type pageFetcher struct {
	pages map[string]string
	urls  []string
	err   error
}

func (f *pageFetcher) Fetch(ctx context.Context, platform, target string) (*scraper.Page, error) {
	f.urls = append(f.urls, target)
	u, _ := url.Parse(target)
	body, ok := f.pages[u.Query().Get("page")]
	if !ok && f.err != nil {
		return nil, f.err
	}
	return &scraper.Page{URL: target, FinalURL: target, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func weixinPage(from, to int) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="news-list">`)
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, `<li><div class="txt-box">
			<h3><a href="/link?url=%d">Article   %d</a></h3>
			<p class="txt-info">summary %d</p>
			<div class="s-p"><span class="s2"><script>document.write(timeConvert('1700000000'))</script></span></div>
		</div></li>`, i, i, i)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func TestWeixin_ParsesAndPaginates(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{
		"1": weixinPage(1, 10),
		"2": weixinPage(11, 20),
	}}
	s := New(Weixin("https://weixin.sogou.com/weixin"), f, nil)

	var calls int
	items, err := s.Search(context.Background(), "golang", 15, func(stage, msg string, cur, total int) {
		calls++
		assert.Equal(t, "searching", stage)
	})
	require.NoError(t, err)
	require.Len(t, items, 15)
	assert.Len(t, f.urls, 2)
	assert.Equal(t, 2, calls)

	first := items[0]
	assert.Equal(t, "Article 1", first.Title)
	assert.Equal(t, "https://weixin.sogou.com/link?url=1", first.URL)
	assert.Equal(t, "summary 1", first.Snippet)
	assert.Equal(t, "2023-11-14", first.Date)
	assert.Equal(t, "微信公众号", first.Source)

	assert.Contains(t, f.urls[0], "type=2")
	assert.Contains(t, f.urls[0], "query=golang")
}

func TestWeixin_StopsOnEmptyPage(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{
		"1": weixinPage(1, 3),
		"2": `<html><body>no results</body></html>`,
	}}
	s := New(Weixin(""), f, nil)

	items, err := s.Search(context.Background(), "q", 30, nil)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Len(t, f.urls, 2)
}

func TestSearch_FirstPageErrorFails(t *testing.T) {
	f := &pageFetcher{err: errors.New("boom")}
	s := New(Weixin(""), f, nil)

	_, err := s.Search(context.Background(), "q", 10, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSearch_LaterPageErrorKeepsPartial(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{"1": weixinPage(1, 10)}, err: errors.New("boom")}
	s := New(Weixin(""), f, nil)

	items, err := s.Search(context.Background(), "q", 20, nil)
	require.NoError(t, err)
	assert.Len(t, items, 10)
}

func TestDuckDuckGo_UnwrapsRedirects(t *testing.T) {
	body := `<html><body>
		<div class="result"><h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=x">The Go   Docs</a></h2>
			<a class="result__snippet">Documentation for Go</a></div>
		<div class="result"><h2><a class="result__a" href="https://example.com/direct">Direct</a></h2></div>
		<div class="result"><h2><a class="result__a">No link</a></h2></div>
	</body></html>`
	f := &pageFetcher{pages: map[string]string{"": body}}
	s := New(DuckDuckGo("https://html.duckduckgo.com/html/"), f, nil)

	items, err := s.Search(context.Background(), "go docs", 10, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "The Go Docs", items[0].Title)
	assert.Equal(t, "https://go.dev/doc/", items[0].URL)
	assert.Equal(t, "Documentation for Go", items[0].Snippet)
	assert.Equal(t, "https://example.com/direct", items[1].URL)
	assert.Len(t, f.urls, 1)
	assert.Contains(t, f.urls[0], "q=go+docs")
}

func TestSearch_LimitCapped(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{
		"1": weixinPage(1, 10), "2": weixinPage(11, 20), "3": weixinPage(21, 30),
	}}
	s := New(Weixin(""), f, nil)

	items, err := s.Search(context.Background(), "q", 100, nil)
	require.NoError(t, err)
	assert.Len(t, items, 30)
	assert.Len(t, f.urls, 3)
}

func TestWeixin_BlockPageIsSourceFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/antispider/" {
			http.Redirect(w, r, "/antispider/?from=weixin", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("<html><body>请输入验证码</body></html>"))
	}))
	defer ts.Close()

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Fingerprint: fingerprint.ProfileGo,
		Analyzer:    bypass.NewAnalyzer(bypass.DefaultConfig()),
	})
	require.NoError(t, err)

	s := New(Weixin(ts.URL+"/weixin"), fetcher, nil)
	_, err = s.Search(context.Background(), "q", 10, nil)
	require.Error(t, err)

	var be *bypass.BlockedError
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, bypass.KindLoginWall, be.Kind)
}

func TestWeixinDate(t *testing.T) {
	assert.Equal(t, "2023-11-14", weixinDate("document.write(timeConvert('1700000000'))"))
	assert.Equal(t, "3天前", weixinDate("  3天前 "))
}

func zhihuPage(from, to int) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="result-list">`)
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, `<li>
			<h3><a href="/link?url=z%d">How does   Go schedule goroutines %d</a></h3>
			<div class="text">answer %d</div>
			<span class="time">2024-01-%02d</span>
		</li>`, i, i, i, i)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func TestZhihu_SearchesSogouVertical(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []url.Values
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query())
		mu.Unlock()
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, zhihuPage(1, 10))
		case "2":
			fmt.Fprint(w, zhihuPage(11, 15))
		default:
			fmt.Fprint(w, `<html><body></body></html>`)
		}
	}))
	defer ts.Close()

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Fingerprint: fingerprint.ProfileGo,
		Analyzer:    bypass.NewAnalyzer(bypass.DefaultConfig()),
	})
	require.NoError(t, err)

	s := New(Zhihu(ts.URL+"/zhihu"), fetcher, nil)
	items, err := s.Search(context.Background(), "goroutine", 12, nil)
	require.NoError(t, err)
	require.Len(t, items, 12)

	first := items[0]
	assert.Equal(t, "How does Go schedule goroutines 1", first.Title)
	assert.Equal(t, ts.URL+"/link?url=z1", first.URL)
	assert.Equal(t, "answer 1", first.Snippet)
	assert.Equal(t, "2024-01-01", first.Date)
	assert.Equal(t, "知乎", first.Source)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	assert.Equal(t, "goroutine", queries[0].Get("query"))
	assert.Equal(t, "2", queries[0].Get("type"))
	assert.Equal(t, "utf8", queries[0].Get("ie"))
}

func TestZhihu_DefaultBaseURL(t *testing.T) {
	cfg := Zhihu("")
	assert.Equal(t, ZhihuBaseURL, cfg.BaseURL)
	assert.Equal(t, "https://zhihu.sogou.com/zhihu?ie=utf8&page=1&query=go&type=2", cfg.PageURL(cfg.BaseURL, "go", 1))
}
