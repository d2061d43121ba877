package search

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLPattern extracts entries from one known markup shape. Patterns are independent of each other.
type HTMLPattern struct {
	Name    string
	Extract func(doc *goquery.Document, base *url.URL) []Entry
}

// HTMLParser runs its patterns in order and keeps the first non-empty result.
type HTMLParser struct {
	Patterns []HTMLPattern
}

func NewHTMLParser() HTMLParser {
	return HTMLParser{Patterns: DefaultHTMLPatterns()}
}

func DefaultHTMLPatterns() []HTMLPattern {
	return []HTMLPattern{
		{Name: "result-blocks", Extract: extractResultBlocks},
		{Name: "table-rows", Extract: extractTableRows},
		{Name: "bare-anchors", Extract: extractBareAnchors},
	}
}

func (p HTMLParser) Parse(body []byte, base *url.URL) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for _, pattern := range p.Patterns {
		if entries := pattern.Extract(doc, base); len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, nil
}

func extractResultBlocks(doc *goquery.Document, base *url.URL) []Entry {
	var out []Entry
	doc.Find("div.result, div.web-result, article[data-testid='result']").Each(func(_ int, block *goquery.Selection) {
		if block.HasClass("result--ad") {
			return
		}
		link := block.Find("a.result__a, h2 a, a[data-testid='result-title-a']").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		target, ok := NormalizeURL(href, base)
		if !ok {
			return
		}
		snippet := block.Find(".result__snippet, [data-result='snippet']").First().Text()
		out = append(out, Entry{
			Title:   cleanText(link.Text()),
			URL:     target,
			Snippet: cleanText(snippet),
		})
	})
	return out
}

func extractTableRows(doc *goquery.Document, base *url.URL) []Entry {
	var out []Entry
	doc.Find("table a.result-link, table a.result__a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		target, ok := NormalizeURL(href, base)
		if !ok {
			return
		}
		row := link.Closest("tr")
		snippet := row.Find("td.result-snippet").Text()
		if strings.TrimSpace(snippet) == "" {
			snippet = row.NextAllFiltered("tr").First().Find("td.result-snippet").Text()
		}
		out = append(out, Entry{
			Title:   cleanText(link.Text()),
			URL:     target,
			Snippet: cleanText(snippet),
		})
	})
	return out
}

func extractBareAnchors(doc *goquery.Document, base *url.URL) []Entry {
	var out []Entry
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if !strings.Contains(href, redirectParam+"=") && !strings.HasPrefix(href, "http") {
			return
		}
		target, ok := NormalizeURL(href, base)
		if !ok || isBackendHost(Host(target)) {
			return
		}
		if base != nil && strings.EqualFold(Host(target), Host(base.String())) {
			return
		}
		title := cleanText(link.Text())
		if len([]rune(title)) < 3 {
			return
		}
		out = append(out, Entry{Title: title, URL: target})
	})
	return out
}

func cleanText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
