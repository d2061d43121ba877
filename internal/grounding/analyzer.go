package grounding

import (
	"time"

	"webchat/backend/internal/conversation"
)

const HistoryWindow = 12

type Signal struct {
	Confidence     float64  `json:"confidence"`
	CoverageRatio  float64  `json:"coverageRatio"`
	MissingTerms   []string `json:"missingTerms"`
	LongRunning    bool     `json:"longRunning"`
	AssistantTurns int      `json:"assistantTurns"`
	TotalTurns     int      `json:"totalTurns"`
}

// Analyze scores how much of the prompt's vocabulary the recent conversation already covers.
func Analyze(history []conversation.Turn, prompt string, now time.Time) Signal {
	window := conversation.Tail(history, HistoryWindow)

	known := make(map[string]struct{}, len(window)*MaxTokens)
	for _, turn := range window {
		for _, token := range Tokenize(turn.Content) {
			known[token] = struct{}{}
		}
		if turn.HasContext() {
			for _, token := range Tokenize(turn.Meta.Context) {
				known[token] = struct{}{}
			}
		}
	}

	promptTokens := Tokenize(prompt)
	missing := make([]string, 0, len(promptTokens))
	covered := 0
	for _, token := range promptTokens {
		if _, ok := known[token]; ok {
			covered++
			continue
		}
		missing = append(missing, token)
	}

	coverage := 0.0
	if len(promptTokens) > 0 {
		coverage = float64(covered) / float64(len(promptTokens))
	}

	assistantTurns := conversation.CountRole(window, conversation.RoleAssistant)
	signal := Signal{
		CoverageRatio:  coverage,
		MissingTerms:   missing,
		LongRunning:    assistantTurns >= 3 || len(window) >= 6,
		AssistantTurns: assistantTurns,
		TotalTurns:     len(window),
	}

	lastAssistant, hasAssistant := conversation.LastOfRole(window, conversation.RoleAssistant)
	lastRetrieval, hasRetrieval := conversation.LatestRetrieval(window)

	signal.Confidence = Confidence(ConfidenceInput{
		LongRunning:          signal.LongRunning,
		AssistantTurns:       assistantTurns,
		Coverage:             coverage,
		LastAssistantContext: hasAssistant && lastAssistant.HasContext(),
		HasRetrieval:         hasRetrieval,
		SinceRetrieval:       now.Sub(lastRetrieval),
	})
	return signal
}

type ConfidenceInput struct {
	LongRunning          bool
	AssistantTurns       int
	Coverage             float64
	LastAssistantContext bool
	HasRetrieval         bool
	SinceRetrieval       time.Duration
}

// Confidence is the pure scoring step of Analyze. Thresholds are pinned by tests.
func Confidence(in ConfidenceInput) float64 {
	score := 0.0
	if in.LongRunning {
		score += 0.35
	}

	switch {
	case in.AssistantTurns >= 6:
		score += 0.15
	case in.AssistantTurns >= 3:
		score += 0.10
	case in.AssistantTurns >= 1:
		score += 0.05
	}

	switch {
	case in.Coverage >= 0.8:
		score += 0.40
	case in.Coverage >= 0.6:
		score += 0.28
	case in.Coverage >= 0.45:
		score += 0.15
	}

	if in.LastAssistantContext {
		score += 0.12
	}

	if in.HasRetrieval {
		switch {
		case in.SinceRetrieval <= 10*time.Minute:
			score += 0.05
		case in.SinceRetrieval > 60*time.Minute:
			score -= 0.08
		}
	}

	return clamp01(score)
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
