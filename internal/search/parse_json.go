package search

import (
	"encoding/json"
	"net/url"
	"strings"
)

type instantAnswer struct {
	Heading        string         `json:"Heading"`
	AbstractText   string         `json:"AbstractText"`
	AbstractURL    string         `json:"AbstractURL"`
	AbstractSource string         `json:"AbstractSource"`
	Answer         string         `json:"Answer"`
	Results        []relatedTopic `json:"Results"`
	RelatedTopics  []relatedTopic `json:"RelatedTopics"`
}

type relatedTopic struct {
	FirstURL string         `json:"FirstURL"`
	Text     string         `json:"Text"`
	Name     string         `json:"Name"`
	Topics   []relatedTopic `json:"Topics"`
}

// InstantAnswerParser reads the JSON instant-answer payload: the abstract first, then results and related topics.
type InstantAnswerParser struct{}

func (InstantAnswerParser) Parse(body []byte, base *url.URL) ([]Entry, error) {
	var payload instantAnswer
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var out []Entry
	if target, ok := NormalizeURL(payload.AbstractURL, base); ok && strings.TrimSpace(payload.AbstractText) != "" {
		title := cleanText(payload.Heading)
		if title == "" {
			title = cleanText(payload.AbstractSource)
		}
		snippet := cleanText(payload.AbstractText)
		if answer := cleanText(payload.Answer); answer != "" {
			snippet = answer + " " + snippet
		}
		out = append(out, Entry{Title: title, URL: target, Snippet: snippet})
	}

	for _, topic := range flattenTopics(append(payload.Results, payload.RelatedTopics...)) {
		target, ok := NormalizeURL(topic.FirstURL, base)
		if !ok {
			continue
		}
		text := cleanText(topic.Text)
		title := text
		if idx := strings.Index(text, " - "); idx > 0 {
			title = text[:idx]
		}
		if title == "" {
			title = target
		}
		out = append(out, Entry{Title: title, URL: target, Snippet: text})
	}
	return out, nil
}

func flattenTopics(topics []relatedTopic) []relatedTopic {
	out := make([]relatedTopic, 0, len(topics))
	for _, topic := range topics {
		if len(topic.Topics) > 0 {
			out = append(out, flattenTopics(topic.Topics)...)
			continue
		}
		out = append(out, topic)
	}
	return out
}
