package httpapi

import (
	"strings"

	"webchat/backend/internal/research"
)

func progressEventData(progress research.Progress) map[string]any {
	event := map[string]any{
		"stage": progress.Stage,
	}

	if message := strings.TrimSpace(progress.Message); message != "" {
		event["message"] = message
	}
	if progress.Iteration > 0 {
		event["iteration"] = progress.Iteration
	}
	if progress.Iterations > 0 {
		event["iterations"] = progress.Iterations
	}
	if query := strings.TrimSpace(progress.Query); query != "" {
		event["query"] = query
	}
	if progress.Findings > 0 {
		event["findings"] = progress.Findings
	}
	if len(progress.Queries) > 0 {
		event["queries"] = progress.Queries
	}
	if draft := strings.TrimSpace(progress.Draft); draft != "" {
		event["draft"] = draft
	}
	if progress.Verdict != "" {
		event["verdict"] = progress.Verdict
	}
	if errText := strings.TrimSpace(progress.Error); errText != "" {
		event["error"] = errText
	}

	return event
}
