package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	MinLimit        = 1
	MaxLimit        = 12
	MaxSnippetRunes = 320
)

type Entry struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Summary   string `json:"summary,omitempty"`
	QueryUsed string `json:"queryUsed"`
	Strategy  string `json:"strategy,omitempty"`
}

type Outcome struct {
	Text        string    `json:"text"`
	Entries     []Entry   `json:"entries"`
	Queries     []string  `json:"queries"`
	RetrievedAt time.Time `json:"retrievedAt"`
}

func (o Outcome) Empty() bool {
	return len(o.Entries) == 0
}

// Parser turns one backend response body into entries. base is the request URL.
type Parser interface {
	Parse(body []byte, base *url.URL) ([]Entry, error)
}

type ParserFunc func(body []byte, base *url.URL) ([]Entry, error)

func (f ParserFunc) Parse(body []byte, base *url.URL) ([]Entry, error) {
	return f(body, base)
}

// Strategy is one way of asking the backend. Strategies are tried in order until one yields entries.
type Strategy struct {
	Name   string
	Build  func(ctx context.Context, query string) (*http.Request, error)
	Parser Parser
}

// Enricher fills Entry.Summary for the leading entries.
type Enricher interface {
	Enrich(ctx context.Context, entries []Entry, maxPages, maxChars int) []Entry
}

type StatusError struct {
	Strategy   string
	StatusCode int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Strategy, e.StatusCode)
}

func ClampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
