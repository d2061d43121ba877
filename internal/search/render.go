package search

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Render formats an outcome as the context block handed to the model. Output depends only on the outcome.
func Render(outcome Outcome) string {
	if len(outcome.Entries) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(outcome.Queries))
	for _, query := range outcome.Queries {
		quoted = append(quoted, fmt.Sprintf("%q", query))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Web results (retrieved %s) for: %s\n",
		outcome.RetrievedAt.UTC().Format("2006-01-02 15:04 UTC"), strings.Join(quoted, "; "))

	for i, entry := range outcome.Entries {
		b.WriteString("\n")
		fmt.Fprintf(&b, "[%d] %s\n", i+1, entry.Title)
		body := entry.Summary
		if strings.TrimSpace(body) == "" {
			body = entry.Snippet
		}
		if strings.TrimSpace(body) != "" {
			b.WriteString(body)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Source: %s (%s)\n", Host(entry.URL), entry.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// TruncateRunes cuts s to at most limit runes, ending in an ellipsis when cut.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
