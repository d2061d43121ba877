package research

import (
	"fmt"
	"strings"

	"webchat/backend/internal/search"
)

func writeFindings(b *strings.Builder, findings []search.Entry) {
	for i, finding := range findings {
		fmt.Fprintf(b, "[%d] %s (%s)\n", i+1, strings.TrimSpace(finding.Title), finding.URL)
		body := strings.TrimSpace(finding.Summary)
		if body == "" {
			body = strings.TrimSpace(finding.Snippet)
		}
		if body != "" {
			b.WriteString("    ")
			b.WriteString(search.TruncateRunes(body, 600))
			b.WriteString("\n")
		}
	}
}

func buildSuggestionPrompt(topic string, pass Pass, pooled []string) string {
	var b strings.Builder
	b.WriteString("You are helping plan web research. Respond with strict JSON only.\n")
	b.WriteString("Schema: {\"queries\":string[]}\n")
	fmt.Fprintf(&b, "Propose at most %d new, specific search queries that would fill gaps in what is known so far.\n", maxModelQueries)
	b.WriteString("\nTopic:\n")
	b.WriteString(topic)
	fmt.Fprintf(&b, "\n\nPass %d searched: %s\n", pass.Iteration, pass.Query)
	if len(pass.Findings) > 0 {
		b.WriteString("Findings:\n")
		writeFindings(&b, pass.Findings)
	} else {
		b.WriteString("Findings: none\n")
	}
	if pass.Reflection != "" {
		b.WriteString("\nReflection so far: ")
		b.WriteString(pass.Reflection)
		b.WriteString("\n")
	}
	if len(pooled) > 0 {
		b.WriteString("\nAlready planned queries:\n")
		for _, q := range pooled {
			b.WriteString("- ")
			b.WriteString(q)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func buildDraftPrompt(topic string, findings []search.Entry, priorDraft, reflectionText string) string {
	var b strings.Builder
	b.WriteString("Write a short answer to the research topic using only the evidence below. ")
	b.WriteString("Cite evidence by its [n] marker. Say plainly when the evidence is thin.\n")
	b.WriteString("\nTopic:\n")
	b.WriteString(topic)
	b.WriteString("\n\nEvidence:\n")
	writeFindings(&b, findings)
	if reflectionText != "" {
		b.WriteString("\nResearch notes: ")
		b.WriteString(reflectionText)
		b.WriteString("\n")
	}
	if priorDraft != "" {
		b.WriteString("\nA previous draft was judged incomplete. Improve on it:\n")
		b.WriteString(priorDraft)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func buildReviewPrompt(topic, draft string, findings []search.Entry) string {
	var b strings.Builder
	b.WriteString("You review research drafts. Respond with strict JSON only.\n")
	b.WriteString("Schema: {\"verdict\":\"good|revise\",\"critique\":string}\n")
	b.WriteString("Choose good only when the draft answers the topic and every claim is supported by the evidence.\n")
	b.WriteString("\nTopic:\n")
	b.WriteString(topic)
	b.WriteString("\n\nEvidence:\n")
	writeFindings(&b, findings)
	b.WriteString("\nDraft:\n")
	b.WriteString(draft)
	return strings.TrimSpace(b.String())
}
