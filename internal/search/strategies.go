package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Endpoints struct {
	HTML          string
	Mirror        string
	Lite          string
	InstantAnswer string
	NewsRSS       string
}

// DefaultStrategies returns the fallback order used by the provider. Strategies with no endpoint are skipped.
func DefaultStrategies(ep Endpoints) []Strategy {
	html := NewHTMLParser()
	candidates := []Strategy{
		{Name: "html-get", Build: getRequest(ep.HTML, nil), Parser: html},
		{Name: "html-post", Build: formRequest(ep.HTML), Parser: html},
		{Name: "html-mirror", Build: getRequest(ep.Mirror, nil), Parser: html},
		{Name: "lite", Build: formRequest(ep.Lite), Parser: html},
		{Name: "instant-answer", Build: getRequest(ep.InstantAnswer, url.Values{
			"format":        {"json"},
			"no_html":       {"1"},
			"skip_disambig": {"1"},
		}), Parser: InstantAnswerParser{}},
		{Name: "news-rss", Build: getRequest(ep.NewsRSS, url.Values{
			"hl":   {"en-US"},
			"gl":   {"US"},
			"ceid": {"US:en"},
		}), Parser: FeedParser{}},
	}

	out := make([]Strategy, 0, len(candidates))
	for _, strategy := range candidates {
		if strategy.Build != nil {
			out = append(out, strategy)
		}
	}
	return out
}

func getRequest(endpoint string, extra url.Values) func(context.Context, string) (*http.Request, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	return func(ctx context.Context, query string) (*http.Request, error) {
		target, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		params := target.Query()
		params.Set("q", query)
		for key, values := range extra {
			for _, value := range values {
				params.Add(key, value)
			}
		}
		target.RawQuery = params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		setBrowserHeaders(req)
		return req, nil
	}
}

func formRequest(endpoint string) func(context.Context, string) (*http.Request, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	return func(ctx context.Context, query string) (*http.Request, error) {
		form := url.Values{"q": {query}, "b": {""}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		setBrowserHeaders(req)
		return req, nil
	}
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,application/rss+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
