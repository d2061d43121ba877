package planner

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"webchat/backend/internal/conversation"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func TestDecideFreshNewsWithoutHistory(t *testing.T) {
	plan := Decide(Input{
		Prompt:     "What's the latest news on renewable energy?",
		AutoSearch: true,
		Now:        testNow,
	})

	if !plan.GenericFreshInfo {
		t.Fatal("expected generic fresh info request")
	}
	if !plan.ShouldSearch {
		t.Fatalf("expected search, got reason %s: %s", plan.Reason, plan.Message)
	}
	if plan.Queries[0] != "What's the latest news on renewable energy?" {
		t.Fatalf("expected raw prompt first, got %v", plan.Queries)
	}
	found := false
	for _, query := range plan.Queries {
		if strings.HasPrefix(query, "renewable energy news ") && strings.Contains(query, "2026") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected date-qualified news variant, got %v", plan.Queries)
	}
	if plan.Reason != ReasonInitialSearch {
		t.Fatalf("unexpected reason: %s", plan.Reason)
	}
}

func TestDecideReferentialFollowUpReusesContext(t *testing.T) {
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "What's the forecast for solar installations this year?"},
		{Role: conversation.RoleAssistant, Content: "Analysts expect growth.", Meta: conversation.Meta{
			Context:       "Web results ... solar installations forecast",
			UsedWebSearch: true,
			RetrievedAt:   testNow.Add(-2 * time.Minute),
		}},
	}

	plan := Decide(Input{History: history, Prompt: "and what about next year?", AutoSearch: true, Now: testNow})

	if plan.ShouldSearch {
		t.Fatal("expected no search for referential follow-up")
	}
	if plan.Reason != ReasonReuseContext || !plan.ReusedContext {
		t.Fatalf("unexpected reason: %s", plan.Reason)
	}
	if !strings.Contains(strings.ToLower(plan.Message), "reus") {
		t.Fatalf("expected reuse message, got %q", plan.Message)
	}
}

func TestDecideDirectiveWithoutTopicSkipsSearch(t *testing.T) {
	plan := Decide(Input{Prompt: "fetch this page please", AutoSearch: true, Now: testNow})
	if plan.ShouldSearch {
		t.Fatal("expected no search")
	}
	if plan.Reason != ReasonNoTopic {
		t.Fatalf("unexpected reason: %s", plan.Reason)
	}
	if len(plan.Queries) != 0 {
		t.Fatalf("expected no queries, got %v", plan.Queries)
	}
}

func TestDecideDirectiveTopicBypassesSuppression(t *testing.T) {
	history := longHistory("rust borrow checker lifetimes", 4)
	plan := Decide(Input{
		History:    history,
		Prompt:     "get me the info about rust borrow checker lifetimes",
		AutoSearch: true,
		Now:        testNow,
	})
	if !plan.ShouldSearch {
		t.Fatalf("expected directive to force search, got %s", plan.Reason)
	}
	if plan.DirectiveTopic != "rust borrow checker lifetimes" {
		t.Fatalf("unexpected topic: %q", plan.DirectiveTopic)
	}
	if plan.Queries[0] != "rust borrow checker lifetimes" {
		t.Fatalf("expected directive topic as first query, got %v", plan.Queries)
	}
}

func TestDecideDisabledStillReturnsQueries(t *testing.T) {
	plan := Decide(Input{Prompt: "best hiking trails near Denver", AutoSearch: false, Now: testNow})
	if plan.ShouldSearch || !plan.Disabled {
		t.Fatalf("expected disabled plan, got %+v", plan)
	}
	if len(plan.Queries) == 0 {
		t.Fatal("expected candidate queries for audit")
	}
}

func TestDecideSuppressesWhenHighlyGrounded(t *testing.T) {
	history := longHistory("postgres vacuum autovacuum tuning", 4)
	plan := Decide(Input{History: history, Prompt: "postgres autovacuum tuning", AutoSearch: true, Now: testNow})
	if plan.ShouldSearch {
		t.Fatalf("expected suppression, got %s", plan.Reason)
	}
	if plan.Reason != ReasonGrounded {
		t.Fatalf("unexpected reason: %s (confidence %.2f)", plan.Reason, plan.Signal.Confidence)
	}
}

func TestDecideOffGoalFlagsRedirect(t *testing.T) {
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Help me plan a vegetable garden layout"},
		{Role: conversation.RoleAssistant, Content: "Start with raised beds."},
		{Role: conversation.RoleUser, Content: "Which tomatoes grow best?"},
		{Role: conversation.RoleAssistant, Content: "Cherry tomatoes are forgiving."},
	}
	plan := Decide(Input{History: history, Prompt: "explain quantum chromodynamics gluon confinement", AutoSearch: true, Now: testNow})
	if plan.ShouldSearch {
		t.Fatal("expected off-goal suppression")
	}
	if plan.Reason != ReasonOffGoal || !plan.RedirectToGoal {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestDecideReusesEarlierWebContextAfterTwoAssistantTurns(t *testing.T) {
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "compare electric bikes for commuting"},
		{Role: conversation.RoleAssistant, Content: "Here are options.", Meta: conversation.Meta{UsedWebSearch: true}},
		{Role: conversation.RoleUser, Content: "what about battery range for electric bikes"},
		{Role: conversation.RoleAssistant, Content: "Range varies."},
	}
	plan := Decide(Input{History: history, Prompt: "electric bikes with hydraulic brakes", AutoSearch: true, Now: testNow})
	if plan.ShouldSearch {
		t.Fatalf("expected reuse, got %s", plan.Reason)
	}
	if plan.Reason != ReasonReuseWebContext {
		t.Fatalf("unexpected reason: %s", plan.Reason)
	}
}

func TestDecideFocusedRefreshNarrowsQueries(t *testing.T) {
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Tell me about the James Webb telescope"},
		{Role: conversation.RoleAssistant, Content: "It observes in infrared."},
	}
	plan := Decide(Input{History: history, Prompt: "How does its mirror alignment compare to Hubble?", AutoSearch: true, Now: testNow})
	if !plan.ShouldSearch || !plan.FocusedRefresh {
		t.Fatalf("expected focused refresh, got %+v", plan)
	}
	if len(plan.Queries) > 2 {
		t.Fatalf("expected at most 2 queries, got %v", plan.Queries)
	}
	if plan.Queries[0] != "mirror alignment compare hubble" {
		t.Fatalf("expected focus terms first, got %v", plan.Queries)
	}
}

func TestBuildQueriesIsDeterministicAndBounded(t *testing.T) {
	in := Input{
		History: []conversation.Turn{{Role: conversation.RoleUser, Content: "Track semiconductor export policy"}},
		Prompt:  "latest chip export updates and news",
		Now:     testNow,
	}
	first := BuildQueries(in, "", nil)
	second := BuildQueries(in, "", nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical queries, got %v vs %v", first, second)
	}
	if len(first) > MaxQueries {
		t.Fatalf("expected at most %d queries, got %d", MaxQueries, len(first))
	}
	if first[len(first)-1] != "Track semiconductor export policy" {
		t.Fatalf("expected goal as a query, got %v", first)
	}
}

func TestPlanInvariantsAcrossPrompts(t *testing.T) {
	prompts := []string{
		"", "hi", "?", "news", "what's new", "search for", "search for golang generics",
		"latest headlines", "ok thanks", "fetch the page about",
		"compare the top five vector databases for production use in 2026 with pricing",
	}
	histories := [][]conversation.Turn{nil, longHistory("vector databases pricing", 3)}
	for _, history := range histories {
		for _, prompt := range prompts {
			for _, auto := range []bool{true, false} {
				plan := Decide(Input{History: history, Prompt: prompt, AutoSearch: auto, Now: testNow})
				if len(plan.Queries) > MaxQueries {
					t.Fatalf("%q: too many queries %v", prompt, plan.Queries)
				}
				if !plan.Disabled && plan.ShouldSearch && len(plan.Queries) == 0 {
					t.Fatalf("%q: search without queries", prompt)
				}
				if plan.Message == "" {
					t.Fatalf("%q: expected planning message", prompt)
				}
			}
		}
	}
}

func longHistory(topic string, assistantTurns int) []conversation.Turn {
	history := make([]conversation.Turn, 0, assistantTurns*2)
	for i := 0; i < assistantTurns; i++ {
		history = append(history,
			conversation.Turn{Role: conversation.RoleUser, Content: topic},
			conversation.Turn{Role: conversation.RoleAssistant, Content: "Notes on " + topic, Meta: conversation.Meta{
				Context:     topic,
				RetrievedAt: testNow.Add(-3 * time.Minute),
			}},
		)
	}
	return history
}
