package search

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// FeedParser reads an RSS/Atom news feed. Item descriptions are HTML fragments and are flattened to text.
type FeedParser struct{}

func (FeedParser) Parse(body []byte, base *url.URL) ([]Entry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		target, ok := NormalizeURL(item.Link, base)
		if !ok {
			continue
		}
		snippet := htmlFragmentText(item.Description)
		if item.PublishedParsed != nil {
			published := item.PublishedParsed.UTC().Format("2006-01-02")
			if snippet == "" {
				snippet = "Published " + published + "."
			} else {
				snippet = "Published " + published + ". " + snippet
			}
		}
		title := cleanText(item.Title)
		if title == "" {
			title = target
		}
		out = append(out, Entry{Title: title, URL: target, Snippet: snippet})
	}
	return out, nil
}

func htmlFragmentText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return cleanText(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return cleanText(fragment)
	}
	return cleanText(doc.Text())
}
