// Package bypass recognizes responses where a site challenged or blocked
// the request instead of serving content.
package bypass

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a detected block.
type Kind string

const (
	KindChallenge Kind = "challenge"
	KindCaptcha   Kind = "captcha"
	KindLoginWall Kind = "login_wall"
	KindIPBan     Kind = "ip_ban"
	KindRateLimit Kind = "rate_limit"
)

// ErrBlocked matches every *BlockedError.
var ErrBlocked = errors.New("blocked by anti-crawler protection")

// Input is the part of a response the detectors look at.
type Input struct {
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Detection describes what was found.
type Detection struct {
	Kind   Kind
	Source string // e.g. "Cloudflare", "DataDome", "content", "url"
	Detail string
}

// BlockedError reports a response that was recognized as a block page.
type BlockedError struct {
	Detection
	URL string
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("%s detected by %s at %s", e.Kind, e.Source, e.URL)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// Detector examines a response to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(in *Input) (Detection, bool)

// DefaultDetectors returns the standard list of vendor bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs in through detectors and returns the first detection.
func Analyze(in *Input, detectors []Detector) (Detection, bool) {
	if in == nil {
		return Detection{}, false
	}
	for _, d := range detectors {
		if det, ok := d(in); ok {
			return det, true
		}
	}
	return Detection{}, false
}

func getHeader(headers map[string][]string, key string) string {
	if vals, ok := headers[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	// Case-insensitive fallback
	lowerKey := strings.ToLower(key)
	for k, vals := range headers {
		if strings.ToLower(k) == lowerKey && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func vendor(name string) Detection {
	return Detection{Kind: KindChallenge, Source: name}
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(in *Input) (Detection, bool) {
	// Status codes 403 or 503 are common for CF challenges
	if in.StatusCode == http.StatusForbidden || in.StatusCode == http.StatusServiceUnavailable {
		server := strings.ToLower(getHeader(in.Headers, "Server"))
		if strings.Contains(server, "cloudflare") {
			return vendor("Cloudflare"), true
		}

		if bytes.Contains(in.Body, []byte("cf-browser-verification")) ||
			bytes.Contains(in.Body, []byte("cloudflare-nginx")) ||
			bytes.Contains(in.Body, []byte("cf-turnstile")) ||
			bytes.Contains(in.Body, []byte("Attention Required! | Cloudflare")) {
			return vendor("Cloudflare"), true
		}
	}
	return Detection{}, false
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(in *Input) (Detection, bool) {
	if in.StatusCode == http.StatusForbidden {
		server := strings.ToLower(getHeader(in.Headers, "Server"))
		if strings.Contains(server, "akamai") {
			return vendor("Akamai"), true
		}

		// Akamai often returns a generic "Reference #" block page
		if bytes.Contains(in.Body, []byte("Reference #")) && bytes.Contains(in.Body, []byte("Access Denied")) {
			return vendor("Akamai"), true
		}
	}
	return Detection{}, false
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(in *Input) (Detection, bool) {
	if in.StatusCode == http.StatusForbidden {
		server := strings.ToLower(getHeader(in.Headers, "Server"))
		if strings.Contains(server, "datadome") {
			return vendor("DataDome"), true
		}

		if getHeader(in.Headers, "X-DataDome") != "" || getHeader(in.Headers, "X-DataDome-Response") != "" {
			return vendor("DataDome"), true
		}

		if bytes.Contains(in.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(in.Body, []byte("datadome")) {
			return vendor("DataDome"), true
		}
	}
	return Detection{}, false
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(in *Input) (Detection, bool) {
	if in.StatusCode == http.StatusForbidden {
		if getHeader(in.Headers, "X-Px-Captcha") != "" {
			return vendor("PerimeterX"), true
		}

		if bytes.Contains(in.Body, []byte("client.perimeterx.net")) ||
			bytes.Contains(in.Body, []byte("px-captcha")) ||
			bytes.Contains(in.Body, []byte("_pxBlock")) {
			return vendor("PerimeterX"), true
		}
	}
	return Detection{}, false
}
