package research

import (
	"fmt"
	"strings"

	"webchat/backend/internal/search"
)

func (o *Orchestrator) report(state *runState) Report {
	answer := state.accepted
	if answer == "" {
		answer = state.lastDraft
	}
	return Report{
		Topic:    state.topic,
		Timeline: state.timeline,
		Summary:  buildSummary(state.topic, state.timeline),
		Answer:   answer,
		Sources:  collectSources(state.timeline, maxSources),
		Queries:  state.pool.snapshot(),
	}
}

// buildSummary walks the timeline and caps the text at SummaryCharLimit runes.
func buildSummary(topic string, timeline []Pass) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research on %q across %d pass%s.\n", topic, len(timeline), pluralES(len(timeline)))
	for _, pass := range timeline {
		fmt.Fprintf(&b, "\nPass %d (%s): ", pass.Iteration, pass.Query)
		switch {
		case pass.Error != "":
			b.WriteString("search failed.\n")
			continue
		case len(pass.Findings) == 0:
			b.WriteString("no new sources.\n")
			continue
		default:
			fmt.Fprintf(&b, "%d new source%s.\n", len(pass.Findings), pluralS(len(pass.Findings)))
		}
		for _, finding := range pass.Findings {
			fmt.Fprintf(&b, "- %s (%s)", strings.TrimSpace(finding.Title), search.Host(finding.URL))
			if snippet := strings.TrimSpace(finding.Snippet); snippet != "" {
				b.WriteString(": ")
				b.WriteString(search.TruncateRunes(snippet, 160))
			}
			b.WriteString("\n")
		}
		if pass.Verdict != "" {
			fmt.Fprintf(&b, "Draft verdict: %s.\n", pass.Verdict)
		}
	}
	return search.TruncateRunes(strings.TrimSpace(b.String()), SummaryCharLimit)
}

func collectSources(timeline []Pass, limit int) []Source {
	sources := make([]Source, 0, limit)
	seen := make(map[string]struct{})
	for _, pass := range timeline {
		for _, finding := range pass.Findings {
			if len(sources) >= limit {
				return sources
			}
			key := search.DedupeKey(finding.URL)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			sources = append(sources, Source{Title: finding.Title, URL: finding.URL, Snippet: finding.Snippet})
		}
	}
	return sources
}

// ContextBlock renders the report as extra context for a normal answer.
func (r Report) ContextBlock() string {
	body := strings.TrimSpace(r.Answer)
	if body == "" {
		body = strings.TrimSpace(r.Summary)
	}
	if body == "" && len(r.Sources) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Deep research notes for %q:\n", r.Topic)
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	if len(r.Sources) > 0 {
		b.WriteString("\nResearch sources:\n")
		for i, source := range r.Sources {
			fmt.Fprintf(&b, "[R%d] %s (%s)\n", i+1, source.Title, source.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
