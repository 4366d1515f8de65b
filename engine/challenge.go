package engine

import (
	"net/http"
	"strings"
)

// challengeMarkers identify interstitials served by anti-bot vendors.
// Any of them marks the page as blocked regardless of status code.
var challengeMarkers = []struct {
	marker string
	reason string
}{
	{"cf-browser-verification", "cloudflare challenge"},
	{"challenge-platform", "cloudflare challenge"},
	{"cf_chl_opt", "cloudflare challenge"},
	{"<title>just a moment...</title>", "cloudflare challenge"},
	{"attention required! | cloudflare", "cloudflare block"},
	{"px-captcha", "perimeterx captcha"},
	{"_incapsula_resource", "incapsula block"},
	{"captcha-delivery.com", "datadome captcha"},
	{"/_sec/cp_challenge", "akamai challenge"},
}

// blockedMarkers only count on pages served with a blocking status code.
var blockedMarkers = []string{
	"captcha",
	"access denied",
	"are you a robot",
	"unusual traffic",
	"bot detection",
	"request blocked",
}

func blockingStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// DetectChallenge returns a short reason when the page looks like an
// anti-bot interstitial, or "" when it looks like real content.
func DetectChallenge(statusCode int, html string) string {
	lower := strings.ToLower(html)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m.marker) {
			return m.reason
		}
	}
	if !blockingStatus(statusCode) {
		return ""
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate limited"
	}
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}
