package research

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"webchat/backend/internal/search"
)

// modelAdvisor wraps the optional side calls made during a run.
type modelAdvisor struct {
	responder PromptResponder
}

type suggestionResponse struct {
	Queries []string `json:"queries"`
}

type reviewResponse struct {
	Verdict  Verdict `json:"verdict"`
	Critique string  `json:"critique"`
}

func (a modelAdvisor) enabled() bool {
	return a.responder != nil
}

func (a modelAdvisor) suggestQueries(ctx context.Context, topic string, pass Pass, pooled []string) ([]string, error) {
	raw, err := a.responder.Respond(ctx, buildSuggestionPrompt(topic, pass, pooled))
	if err != nil {
		return nil, err
	}
	var parsed suggestionResponse
	if err := decodeJSONBlock(raw, &parsed); err != nil {
		return nil, err
	}
	queries := dedupeQueries(parsed.Queries)
	if len(queries) > maxModelQueries {
		queries = queries[:maxModelQueries]
	}
	return queries, nil
}

func (a modelAdvisor) draft(ctx context.Context, topic string, findings []search.Entry, priorDraft, reflectionText string) (string, error) {
	raw, err := a.responder.Respond(ctx, buildDraftPrompt(topic, findings, priorDraft, reflectionText))
	if err != nil {
		return "", err
	}
	draft := strings.TrimSpace(raw)
	if draft == "" {
		return "", errors.New("draft was empty")
	}
	return draft, nil
}

func (a modelAdvisor) review(ctx context.Context, topic, draft string, findings []search.Entry) (reviewResponse, error) {
	raw, err := a.responder.Respond(ctx, buildReviewPrompt(topic, draft, findings))
	if err != nil {
		return reviewResponse{}, err
	}
	var parsed reviewResponse
	if err := decodeJSONBlock(raw, &parsed); err != nil {
		return reviewResponse{}, err
	}
	parsed.Verdict = Verdict(strings.ToLower(strings.TrimSpace(string(parsed.Verdict))))
	if parsed.Verdict != VerdictGood && parsed.Verdict != VerdictRevise {
		return reviewResponse{}, errors.New("review verdict must be good or revise")
	}
	parsed.Critique = strings.TrimSpace(parsed.Critique)
	return parsed, nil
}

func decodeJSONBlock(raw string, target any) error {
	jsonRaw := extractJSONBlock(raw)
	if jsonRaw == "" {
		return errors.New("model response did not include json")
	}
	return json.Unmarshal([]byte(jsonRaw), target)
}

func extractJSONBlock(raw string) string {
	value := strings.TrimSpace(raw)
	if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
		return value
	}
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}

func dedupeQueries(queries []string) []string {
	if len(queries) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, query := range queries {
		normalized := strings.Join(strings.Fields(query), " ")
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
