package search

import (
	"net/url"
	"strings"
)

const redirectParam = "uddg"

// NormalizeURL resolves href against base and unwraps the backend's redirect links.
func NormalizeURL(href string, base *url.URL) (string, bool) {
	return normalizeURL(href, base, 0)
}

func normalizeURL(href string, base *url.URL, depth int) (string, bool) {
	raw := strings.TrimSpace(href)
	if raw == "" || depth > 2 {
		return "", false
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !parsed.IsAbs() && base != nil {
		parsed = base.ResolveReference(parsed)
	}

	if target := parsed.Query().Get(redirectParam); target != "" && (isBackendHost(parsed.Hostname()) || strings.HasPrefix(parsed.Path, "/l/")) {
		return normalizeURL(target, nil, depth+1)
	}
	if isBackendHost(parsed.Hostname()) && isAdPath(parsed.Path) {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}
	parsed.Fragment = ""
	return parsed.String(), true
}

// DedupeKey collapses cosmetic URL differences (scheme, www., trailing slash, tracking params).
func DedupeKey(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	path := strings.TrimRight(parsed.EscapedPath(), "/")

	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	key := host + path
	if encoded := query.Encode(); encoded != "" {
		key += "?" + encoded
	}
	return key
}

func Host(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

func isBackendHost(host string) bool {
	host = strings.ToLower(host)
	return host == "duckduckgo.com" || strings.HasSuffix(host, ".duckduckgo.com")
}

func isAdPath(path string) bool {
	return strings.HasPrefix(path, "/y.js") || strings.HasPrefix(path, "/aclick")
}
