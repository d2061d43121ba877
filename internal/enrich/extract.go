package enrich

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	minParagraphRunes = 60
	maxSummarySents   = 8
)

const strippedSelectors = "script, style, noscript, template, nav, header, footer, aside, form, button, input, select, textarea, iframe, svg, canvas, img, picture, video, audio, source, figure"

// summarize builds an extractive summary from readable paragraph text.
func summarize(body []byte, maxChars int) (string, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find(strippedSelectors).Remove()

	content := contentRoot(doc)
	paragraphs := make([]string, 0, 16)
	content.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.Join(strings.Fields(p.Text()), " ")
		if utf8.RuneCountInString(text) >= minParagraphRunes {
			paragraphs = append(paragraphs, text)
		}
	})

	return accumulate(paragraphs, maxChars), nil
}

func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, selector := range []string{"main", "article"} {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection
}

func accumulate(paragraphs []string, maxChars int) string {
	var b strings.Builder
	count := 0
	for _, paragraph := range paragraphs {
		for _, sentence := range splitSentences(paragraph) {
			if count >= maxSummarySents {
				return b.String()
			}
			extra := utf8.RuneCountInString(sentence)
			if b.Len() > 0 {
				extra++
			}
			current := utf8.RuneCountInString(b.String())
			if current+extra > maxChars {
				if current == 0 {
					return string([]rune(sentence)[:maxChars])
				}
				return b.String()
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(sentence)
			count++
		}
	}
	return b.String()
}

// splitSentences breaks on ., ! or ? followed by whitespace and an upper-case letter or digit.
func splitSentences(text string) []string {
	runes := []rune(text)
	out := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == '"' || runes[j] == '\'' || runes[j] == ')' || runes[j] == '”') {
			j++
		}
		if j >= len(runes) || !unicode.IsSpace(runes[j]) {
			continue
		}
		k := j
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k < len(runes) && !unicode.IsUpper(runes[k]) && !unicode.IsDigit(runes[k]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start:j])); sentence != "" {
			out = append(out, sentence)
		}
		start = k
		i = k - 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}
