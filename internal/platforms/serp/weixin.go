package serp

import (
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const (
	WeixinName    = "weixin"
	WeixinBaseURL = "https://weixin.sogou.com/weixin"
)

var timeConvert = regexp.MustCompile(`timeConvert\('(\d+)'\)`)

// Weixin searches WeChat official account articles through Sogou.
func Weixin(baseURL string) Config {
	if baseURL == "" {
		baseURL = WeixinBaseURL
	}
	return Config{
		Name:       WeixinName,
		Source:     "微信公众号",
		BaseURL:    baseURL,
		MaxResults: 30,
		PerPage:    10,
		Selectors: Selectors{
			Item:    "ul.news-list li",
			Link:    "h3 a",
			Snippet: "p.txt-info, .news-text, .text, .desc",
			Date:    ".s-p .s2, .news-time, .time, .date",
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
		Date: weixinDate,
	}
}

// weixinDate turns Sogou's inline timeConvert('unix') script into a date.
func weixinDate(raw string) string {
	if m := timeConvert.FindStringSubmatch(raw); m != nil {
		if sec, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return time.Unix(sec, 0).UTC().Format("2006-01-02")
		}
	}
	return CleanText(raw)
}
