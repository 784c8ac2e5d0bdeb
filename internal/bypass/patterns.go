package bypass

import (
	"fmt"
	"net/http"
	"strings"
)

// captchaContextWindow is how far around a captcha pattern the detector
// looks for supporting context, in bytes.
const captchaContextWindow = 200

var captchaContexts = []string{
	"验证码", "captcha", "verify code", "verification code",
	"请输入", "please enter", "输入验证码", "enter code",
}

// LoginWall lists the per-platform signs of a login wall.
type LoginWall struct {
	URLPatterns     []string `mapstructure:"url_patterns"`
	ContentPatterns []string `mapstructure:"content_patterns"`
}

// Config drives the content and URL pattern detectors.
type Config struct {
	Enabled   bool                 `mapstructure:"enabled"`
	Captcha   []string             `mapstructure:"captcha"`
	IPBan     []string             `mapstructure:"ip_ban"`
	RateLimit []string             `mapstructure:"rate_limit"`
	Platforms map[string]LoginWall `mapstructure:"platforms"`
}

// DefaultConfig returns the built-in patterns for the supported platforms.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Captcha:   []string{"验证码", "captcha", "antispider", "seccode"},
		IPBan:     []string{"访问频繁", "ip被封", "your ip has been blocked", "access denied for your ip"},
		RateLimit: []string{"too many requests", "请求过于频繁", "请稍后再试", "rate limit exceeded"},
		Platforms: map[string]LoginWall{
			"weixin": {
				URLPatterns:     []string{"antispider", "unhuman", "need_login"},
				ContentPatterns: []string{"请输入验证码", "登录后查看"},
			},
			"zhihu": {
				URLPatterns:     []string{"antispider", "signin", "unhuman"},
				ContentPatterns: []string{"请输入验证码", "登录知乎", "安全验证"},
			},
		},
	}
}

// Analyzer combines the vendor detectors with the configured patterns.
type Analyzer struct {
	cfg     Config
	vendors []Detector
}

// NewAnalyzer creates an analyzer. A disabled config turns pattern
// matching off; vendor detection always runs.
func NewAnalyzer(cfg Config) *Analyzer {
	platforms := make(map[string]LoginWall, len(cfg.Platforms))
	for name, lw := range cfg.Platforms {
		platforms[strings.ToLower(name)] = LoginWall{
			URLPatterns:     lower(lw.URLPatterns),
			ContentPatterns: lower(lw.ContentPatterns),
		}
	}
	cfg.Platforms = platforms
	cfg.Captcha = lower(cfg.Captcha)
	cfg.IPBan = lower(cfg.IPBan)
	cfg.RateLimit = lower(cfg.RateLimit)
	return &Analyzer{cfg: cfg, vendors: DefaultDetectors()}
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Analyze checks in for the given platform. The platform may be empty for
// arbitrary pages. URL patterns are checked before status and content.
func (a *Analyzer) Analyze(platform string, in *Input) (Detection, bool) {
	if a == nil {
		return Analyze(in, DefaultDetectors())
	}
	if det, ok := Analyze(in, a.vendors); ok {
		return det, true
	}
	if in == nil || !a.cfg.Enabled {
		return Detection{}, false
	}

	lw := a.cfg.Platforms[platform]
	u := strings.ToLower(in.URL)
	for _, p := range lw.URLPatterns {
		if p != "" && strings.Contains(u, p) {
			return Detection{Kind: KindLoginWall, Source: "url", Detail: fmt.Sprintf("url pattern %q", p)}, true
		}
	}

	if in.StatusCode == http.StatusTooManyRequests {
		return Detection{Kind: KindRateLimit, Source: "status", Detail: "HTTP 429"}, true
	}

	body := strings.ToLower(string(in.Body))
	for _, p := range lw.ContentPatterns {
		if p != "" && strings.Contains(body, p) {
			return Detection{Kind: KindLoginWall, Source: "content", Detail: fmt.Sprintf("content pattern %q", p)}, true
		}
	}
	for _, p := range a.cfg.Captcha {
		if captchaInContext(body, p) {
			return Detection{Kind: KindCaptcha, Source: "content", Detail: fmt.Sprintf("content pattern %q", p)}, true
		}
	}
	for _, p := range a.cfg.IPBan {
		if p != "" && strings.Contains(body, p) {
			return Detection{Kind: KindIPBan, Source: "content", Detail: fmt.Sprintf("content pattern %q", p)}, true
		}
	}
	for _, p := range a.cfg.RateLimit {
		if p != "" && strings.Contains(body, p) {
			return Detection{Kind: KindRateLimit, Source: "content", Detail: fmt.Sprintf("content pattern %q", p)}, true
		}
	}
	return Detection{}, false
}

// Check returns a *BlockedError when in is a block page.
func (a *Analyzer) Check(platform string, in *Input) error {
	det, ok := a.Analyze(platform, in)
	if !ok {
		return nil
	}
	return &BlockedError{Detection: det, URL: in.URL}
}

// captchaInContext matches pattern only when a captcha phrase appears near
// its first occurrence. Article text that merely mentions the word does
// not count.
func captchaInContext(body, pattern string) bool {
	if pattern == "" {
		return false
	}
	idx := strings.Index(body, pattern)
	if idx < 0 {
		return false
	}
	start := max(0, idx-captchaContextWindow)
	end := min(len(body), idx+len(pattern)+captchaContextWindow)
	window := body[start:end]
	for _, c := range captchaContexts {
		if c == pattern {
			continue
		}
		if strings.Contains(window, c) {
			return true
		}
	}
	return false
}
