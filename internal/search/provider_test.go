package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

const resultsPage = `<html><body>
<div class="result results_links web-result">
  <h2 class="result__title"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fsolar%3Fa%3D1&amp;rut=abc">Solar outlook</a></h2>
  <a class="result__snippet">SNIPPET</a>
</div>
<div class="result result--ad"><h2><a class="result__a" href="https://duckduckgo.com/y.js?ad_provider=x">Sponsored</a></h2></div>
<div class="result"><h2><a class="result__a" href="https://www.example.com/solar/?a=1&amp;utm_source=feed">Solar outlook again</a></h2></div>
<div class="result"><h2><a class="result__a" href="https://news.example.org/wind">Wind power</a></h2><div class="result__snippet">Wind snippet</div></div>
</body></html>`

type recordingServer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingServer) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recordingServer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func testEndpoints(base string) Endpoints {
	return Endpoints{
		HTML:          base + "/html/",
		Mirror:        base + "/mirror/",
		Lite:          base + "/lite/",
		InstantAnswer: base + "/ia",
		NewsRSS:       base + "/rss",
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 10, 18, 14, 5, 0, 0, time.UTC)
}

func TestSearchFallsBackToFormPostAndDedupes(t *testing.T) {
	rec := &recordingServer{}
	longSnippet := strings.Repeat("sunlight ", 60)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.Method + " " + r.URL.Path)
		if r.URL.Path != "/html/" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("q"); got != "solar outlook" {
			t.Fatalf("unexpected form query: %q", got)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Replace(resultsPage, "SNIPPET", longSnippet, 1)))
	}))
	defer server.Close()

	provider := NewProvider(Config{
		Strategies: DefaultStrategies(Endpoints{HTML: server.URL + "/html/"}),
		Now:        fixedNow,
	}, server.Client(), nil, nil, nil)

	outcome, err := provider.Search(context.Background(), []string{"solar outlook"}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	calls := rec.snapshot()
	if len(calls) != 2 || calls[0] != "GET /html/" || calls[1] != "POST /html/" {
		t.Fatalf("unexpected strategy order: %v", calls)
	}
	if len(outcome.Entries) != 2 {
		t.Fatalf("expected 2 deduped entries, got %d: %+v", len(outcome.Entries), outcome.Entries)
	}
	first := outcome.Entries[0]
	if first.URL != "https://example.com/solar?a=1" {
		t.Fatalf("expected redirect wrapper to be decoded, got %s", first.URL)
	}
	if first.Strategy != "html-post" || first.QueryUsed != "solar outlook" {
		t.Fatalf("unexpected provenance: %+v", first)
	}
	if utf8.RuneCountInString(first.Snippet) != MaxSnippetRunes || !strings.HasSuffix(first.Snippet, "…") {
		t.Fatalf("expected truncated snippet, got %d runes", utf8.RuneCountInString(first.Snippet))
	}
	if outcome.Entries[1].URL != "https://news.example.org/wind" {
		t.Fatalf("unexpected second entry: %+v", outcome.Entries[1])
	}
}

func TestSearchFallsThroughToInstantAnswer(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		switch r.URL.Path {
		case "/ia":
			if r.URL.Query().Get("format") != "json" {
				t.Fatalf("expected json format param")
			}
			w.Header().Set("Content-Type", "application/x-javascript")
			_, _ = w.Write([]byte(`{
			  "Heading": "Go (programming language)",
			  "AbstractText": "Go is a statically typed language.",
			  "AbstractURL": "https://en.wikipedia.org/wiki/Go_(programming_language)",
			  "RelatedTopics": [
			    {"FirstURL": "https://duckduckgo.com/Goroutine", "Text": "Goroutine - lightweight thread"},
			    {"Name": "See also", "Topics": [
			      {"FirstURL": "https://duckduckgo.com/Channel", "Text": "Channel - typed conduit"}
			    ]}
			  ]
			}`))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><p>No results.</p></body></html>`))
		}
	}))
	defer server.Close()

	provider := NewProvider(Config{Strategies: DefaultStrategies(testEndpoints(server.URL)), Now: fixedNow}, server.Client(), nil, nil, nil)
	outcome, err := provider.Search(context.Background(), []string{"golang"}, 12)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	calls := rec.snapshot()
	if calls[len(calls)-1] != "/ia" {
		t.Fatalf("expected instant answer to be last strategy tried, got %v", calls)
	}
	for _, path := range calls {
		if path == "/rss" {
			t.Fatal("news feed should not be consulted once instant answer succeeds")
		}
	}
	if len(outcome.Entries) != 3 {
		t.Fatalf("expected abstract + 2 topics, got %+v", outcome.Entries)
	}
	if outcome.Entries[0].Title != "Go (programming language)" {
		t.Fatalf("unexpected abstract entry: %+v", outcome.Entries[0])
	}
	if outcome.Entries[2].Title != "Channel" {
		t.Fatalf("expected nested topic to be flattened, got %+v", outcome.Entries[2])
	}
}

func TestSearchUsesNewsFeedAsLastResort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>News</title>
<item><title>Grid storage record</title><link>https://energy.example.com/storage</link>
<description>&lt;a href="x"&gt;Batteries&lt;/a&gt; hit a new record</description>
<pubDate>Fri, 16 Oct 2026 08:00:00 GMT</pubDate></item>
</channel></rss>`))
	}))
	defer server.Close()

	provider := NewProvider(Config{Strategies: DefaultStrategies(testEndpoints(server.URL)), Now: fixedNow}, server.Client(), nil, nil, nil)
	outcome, err := provider.Search(context.Background(), []string{"grid storage"}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(outcome.Entries) != 1 {
		t.Fatalf("expected one feed entry, got %+v", outcome.Entries)
	}
	entry := outcome.Entries[0]
	if entry.Strategy != "news-rss" || entry.Snippet != "Published 2026-10-16. Batteries hit a new record" {
		t.Fatalf("unexpected feed entry: %+v", entry)
	}
}

func TestSearchNeverReturnsStrategyFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewProvider(Config{Strategies: DefaultStrategies(testEndpoints(server.URL)), Now: fixedNow}, server.Client(), nil, nil, nil)
	outcome, err := provider.Search(context.Background(), []string{"anything"}, 4)
	if err != nil {
		t.Fatalf("expected failures to be absorbed, got %v", err)
	}
	if !outcome.Empty() || outcome.Text != "" {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
}

func TestSearchDedupesAcrossQueriesAndCapsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Replace(resultsPage, "SNIPPET", "Solar snippet", 1)))
	}))
	defer server.Close()

	provider := NewProvider(Config{Strategies: DefaultStrategies(testEndpoints(server.URL)), Now: fixedNow}, server.Client(), nil, nil, nil)
	outcome, err := provider.Search(context.Background(), []string{"solar", "solar power", "Solar"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(outcome.Entries) != 2 {
		t.Fatalf("expected results deduped across queries, got %d", len(outcome.Entries))
	}
	seen := map[string]bool{}
	for _, entry := range outcome.Entries {
		if seen[entry.URL] {
			t.Fatalf("duplicate url %s", entry.URL)
		}
		seen[entry.URL] = true
	}
	if len(outcome.Queries) != 2 {
		t.Fatalf("expected case-insensitive duplicate query to be dropped, got %v", outcome.Queries)
	}

	limited, err := provider.Search(context.Background(), []string{"solar"}, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(limited.Entries) != 1 {
		t.Fatalf("expected limit clamped to 1, got %d", len(limited.Entries))
	}
}

type stubEnricher struct {
	pages    int
	maxChars int
}

func (s *stubEnricher) Enrich(_ context.Context, entries []Entry, maxPages, maxChars int) []Entry {
	s.pages = maxPages
	s.maxChars = maxChars
	out := append([]Entry(nil), entries...)
	out[0].Summary = "Enriched summary."
	return out
}

func TestSearchRendersEnrichedOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Replace(resultsPage, "SNIPPET", "Solar snippet", 1)))
	}))
	defer server.Close()

	enricher := &stubEnricher{}
	provider := NewProvider(Config{Strategies: DefaultStrategies(testEndpoints(server.URL)), Now: fixedNow, EnrichMaxChars: 500}, server.Client(), enricher, nil, nil)
	outcome, err := provider.Search(context.Background(), []string{"solar"}, 12)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if enricher.pages != 4 || enricher.maxChars != 500 {
		t.Fatalf("unexpected enrichment bounds: pages=%d chars=%d", enricher.pages, enricher.maxChars)
	}

	want := "Web results (retrieved 2026-10-18 14:05 UTC) for: \"solar\"\n\n" +
		"[1] Solar outlook\nEnriched summary.\nSource: example.com (https://example.com/solar?a=1)\n\n" +
		"[2] Wind power\nWind snippet\nSource: news.example.org (https://news.example.org/wind)"
	if outcome.Text != want {
		t.Fatalf("unexpected rendering:\n%s", outcome.Text)
	}
}

func TestSearchReturnsParentCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := NewProvider(Config{Strategies: DefaultStrategies(testEndpoints(server.URL)), Now: fixedNow}, server.Client(), nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := provider.Search(ctx, []string{"slow"}, 3)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
