package serp

import (
	"net/url"
	"strconv"
)

const (
	ZhihuName    = "zhihu"
	ZhihuBaseURL = "https://zhihu.sogou.com/zhihu"
)

// Zhihu searches Zhihu questions and articles through Sogou. Result links
// are Sogou redirects and are returned unresolved.
func Zhihu(baseURL string) Config {
	if baseURL == "" {
		baseURL = ZhihuBaseURL
	}
	return Config{
		Name:       ZhihuName,
		Source:     "知乎",
		BaseURL:    baseURL,
		MaxResults: 30,
		PerPage:    10,
		Selectors: Selectors{
			Item:    ".results .vrwrap, ul.result-list li, .result-about-list",
			Link:    "h3 a, a",
			Snippet: ".news-text, .text, .desc, .summary, .star-wiki",
			Date:    ".news-time, .time, .date, .pub-time",
		},
		PageURL: func(base, query string, page int) string {
			v := url.Values{
				"type":  {"2"},
				"query": {query},
				"ie":    {"utf8"},
				"page":  {strconv.Itoa(page)},
			}
			return base + "?" + v.Encode()
		},
	}
}
