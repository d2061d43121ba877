package planner

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"webchat/backend/internal/conversation"
	"webchat/backend/internal/grounding"
)

const (
	MaxQueries        = 4
	focusedRefreshCap = 2
	maxFocusTerms     = 6
)

type Reason string

const (
	ReasonNoTopic         Reason = "no-topic"
	ReasonReuseContext    Reason = "reuse-context"
	ReasonDisabled        Reason = "disabled"
	ReasonEmptyPrompt     Reason = "empty-prompt"
	ReasonGrounded        Reason = "grounded"
	ReasonWellCovered     Reason = "well-covered"
	ReasonOffGoal         Reason = "off-goal"
	ReasonReuseWebContext Reason = "reuse-web-context"
	ReasonMinimalGaps     Reason = "minimal-gaps"
	ReasonFocusedRefresh  Reason = "focused-refresh"
	ReasonInitialSearch   Reason = "initial-search"
	ReasonDirective       Reason = "directive"
)

type Input struct {
	History    []conversation.Turn
	Prompt     string
	Goal       string
	AutoSearch bool
	Now        time.Time
}

type Plan struct {
	ShouldSearch     bool             `json:"shouldSearch"`
	Queries          []string         `json:"queries"`
	GenericFreshInfo bool             `json:"genericFreshInfo"`
	Disabled         bool             `json:"disabled"`
	FocusedRefresh   bool             `json:"focusedRefresh,omitempty"`
	RedirectToGoal   bool             `json:"redirectToGoal,omitempty"`
	ReusedContext    bool             `json:"reusedContext,omitempty"`
	DirectiveTopic   string           `json:"directiveTopic,omitempty"`
	Reason           Reason           `json:"reason"`
	Message          string           `json:"message"`
	Signal           grounding.Signal `json:"signal"`
}

var (
	freshMentionPattern = regexp.MustCompile(`(?i)\b(?:news|latest|updates?|headlines)\b`)
	freshQualifiers     = wordSet("latest recent today todays current breaking top new newest")
	newsNouns           = wordSet("news updates update headlines developments stories")
	freshWords          = wordSet("latest news update updates headlines recent current breaking today todays newest")
	questionKeywords    = wordSet("who what when where why how which is are does do can should latest current today recent now news update price prices weather score")
)

// Decide runs the planning rules in order; the first rule that applies wins.
func Decide(in Input) Plan {
	prompt := normalizeSpace(in.Prompt)
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	in.Now = now
	in.Prompt = prompt

	signal := grounding.Analyze(in.History, prompt, now)
	plan := Plan{Signal: signal}

	if prompt == "" {
		plan.Reason = ReasonEmptyPrompt
		plan.Message = "Nothing to search for."
		return plan
	}

	directive := matchDirective(prompt)
	if directive.matched && directive.topic == "" {
		plan.Reason = ReasonNoTopic
		plan.Message = "No searchable subject found in the request. Say what the page or topic is about."
		return plan
	}

	if !directive.matched && conversation.PriorWebContext(in.History) && isReferentialFollowUp(prompt) {
		plan.Reason = ReasonReuseContext
		plan.ReusedContext = true
		plan.Message = "Reusing existing web context for this follow-up."
		return plan
	}

	plan.GenericFreshInfo = isGenericFreshInfo(prompt)
	plan.DirectiveTopic = directive.topic
	question := looksLikeQuestion(prompt)
	plan.Queries = BuildQueries(in, directive.topic, signal.MissingTerms)

	if !in.AutoSearch {
		plan.Disabled = true
		plan.Reason = ReasonDisabled
		plan.Message = "Web search is disabled in settings."
		return plan
	}

	explicit := directive.topic != ""
	bypass := explicit || plan.GenericFreshInfo
	missing := len(signal.MissingTerms)

	switch {
	case !explicit && signal.Confidence >= 0.85 && !plan.GenericFreshInfo:
		plan.Reason = ReasonGrounded
		plan.Message = fmt.Sprintf("Conversation already covers this (confidence %.2f); answering without search.", signal.Confidence)
	case !explicit && signal.Confidence >= 0.65 && missing <= 1 && (signal.CoverageRatio >= 0.6 || !question):
		plan.Reason = ReasonWellCovered
		plan.Message = fmt.Sprintf("Existing context covers %.0f%% of the request; skipping search.", signal.CoverageRatio*100)
	case !bypass && isOffGoal(in, signal):
		plan.Reason = ReasonOffGoal
		plan.RedirectToGoal = true
		plan.Message = "Request drifts from the conversation's goal; steering back instead of searching."
	case !bypass && signal.AssistantTurns >= 2 && conversation.PriorWebContext(in.History):
		plan.Reason = ReasonReuseWebContext
		plan.Message = "Reusing web context gathered earlier in the conversation."
	case !bypass && missing == 0:
		plan.Reason = ReasonMinimalGaps
		plan.Message = "No new terms to look up; answering from the conversation."
	default:
		plan.ShouldSearch = true
		switch {
		case explicit:
			plan.Reason = ReasonDirective
			plan.Message = fmt.Sprintf("Searching the web for %q.", directive.topic)
		case signal.AssistantTurns > 0:
			if len(plan.Queries) > focusedRefreshCap {
				plan.Queries = plan.Queries[:focusedRefreshCap]
			}
			plan.FocusedRefresh = true
			plan.Reason = ReasonFocusedRefresh
			plan.Message = fmt.Sprintf("Focused refresh with %d quer%s.", len(plan.Queries), plural(len(plan.Queries)))
		default:
			plan.Reason = ReasonInitialSearch
			plan.Message = fmt.Sprintf("Searching the web with %d quer%s.", len(plan.Queries), plural(len(plan.Queries)))
		}
	}

	if plan.ShouldSearch && len(plan.Queries) == 0 {
		plan.ShouldSearch = false
		plan.Reason = ReasonMinimalGaps
		plan.Message = "No usable search query could be built."
	}
	return plan
}

// BuildQueries is deterministic for identical input, including Now.
func BuildQueries(in Input, directiveTopic string, focusTerms []string) []string {
	prompt := normalizeSpace(in.Prompt)
	queries := make([]string, 0, MaxQueries+2)

	switch {
	case directiveTopic != "":
		queries = append(queries, directiveTopic)
	case freshMentionPattern.MatchString(prompt):
		queries = append(queries, prompt)
		if core := coreTerms(prompt); core != "" {
			queries = append(queries,
				fmt.Sprintf("%s news %s", core, in.Now.Format("January 2006")),
				fmt.Sprintf("%s latest updates %s", core, in.Now.Format("2006-01-02")),
			)
		}
	case len(in.History) > 0 && len(focusTerms) > 0:
		terms := focusTerms
		if len(terms) > maxFocusTerms {
			terms = terms[:maxFocusTerms]
		}
		queries = append(queries, strings.Join(terms, " "), prompt)
	default:
		queries = append(queries, prompt)
	}

	goal := strings.TrimSpace(in.Goal)
	if goal == "" {
		goal = conversation.Goal(in.History)
	}
	if goal != "" {
		queries = append(queries, normalizeSpace(goal))
	}

	queries = dedupeQueries(queries)
	if len(queries) > MaxQueries {
		queries = queries[:MaxQueries]
	}
	return queries
}

func coreTerms(prompt string) string {
	tokens := grounding.Tokenize(prompt)
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, fresh := freshWords[token]; fresh {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

func isReferentialFollowUp(prompt string) bool {
	words := grounding.Words(prompt)
	if len(words) == 0 {
		return false
	}
	meaningful := make([]string, 0, len(words))
	for _, word := range words {
		if !grounding.IsStopWord(word) {
			meaningful = append(meaningful, word)
		}
	}
	if len(meaningful) == 0 {
		return true
	}
	return len(words) <= 4 && len(meaningful) == 1 && utf8.RuneCountInString(meaningful[0]) <= 3
}

func isGenericFreshInfo(prompt string) bool {
	words := grounding.Words(prompt)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	hasNoun, hasQualifier := false, false
	for _, word := range words {
		if _, ok := newsNouns[word]; ok {
			hasNoun = true
		}
		if _, ok := freshQualifiers[word]; ok {
			hasQualifier = true
		}
	}
	return hasNoun && (hasQualifier || len(words) <= 3)
}

func looksLikeQuestion(prompt string) bool {
	if strings.HasSuffix(strings.TrimSpace(prompt), "?") {
		return true
	}
	for _, word := range grounding.Words(prompt) {
		if _, ok := questionKeywords[word]; ok {
			return true
		}
	}
	return false
}

func isOffGoal(in Input, signal grounding.Signal) bool {
	if signal.AssistantTurns < 2 || signal.CoverageRatio > 0 {
		return false
	}
	goal := strings.TrimSpace(in.Goal)
	if goal == "" {
		goal = conversation.Goal(in.History)
	}
	goalTokens := grounding.TokenSet(goal)
	promptTokens := grounding.Tokenize(in.Prompt)
	if len(goalTokens) == 0 || len(promptTokens) < 3 {
		return false
	}
	for _, token := range promptTokens {
		if _, ok := goalTokens[token]; ok {
			return false
		}
	}
	return true
}

func dedupeQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, query := range queries {
		normalized := normalizeSpace(query)
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

func normalizeSpace(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

func wordSet(raw string) map[string]struct{} {
	fields := strings.Fields(raw)
	out := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		out[field] = struct{}{}
	}
	return out
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
