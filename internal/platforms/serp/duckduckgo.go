package serp

import "net/url"

const (
	DuckDuckGoName    = "duckduckgo"
	DuckDuckGoBaseURL = "https://html.duckduckgo.com/html/"
)

// DuckDuckGo searches the JavaScript-free DuckDuckGo endpoint. It serves
// a single page of results.
func DuckDuckGo(baseURL string) Config {
	if baseURL == "" {
		baseURL = DuckDuckGoBaseURL
	}
	return Config{
		Name:       DuckDuckGoName,
		Source:     "DuckDuckGo",
		BaseURL:    baseURL,
		MaxResults: 30,
		Selectors: Selectors{
			Item:    "div.result",
			Link:    "a.result__a",
			Snippet: ".result__snippet",
		},
		PageURL: func(base, query string, _ int) string {
			return base + "?" + url.Values{"q": {query}}.Encode()
		},
		Link: unwrapUDDG,
	}
}

// unwrapUDDG returns the target of a /l/?uddg= redirect link.
func unwrapUDDG(u *url.URL) string {
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return u.String()
}
