package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webchat/backend/internal/conversation"
	"webchat/backend/internal/logger"
	"webchat/backend/internal/research"
	"webchat/backend/internal/stream"
)

type TurnOptions struct {
	RequestID    string
	Model        string
	DeepResearch bool
	// AutoSearch overrides the stored setting for this turn only.
	AutoSearch *bool
}

// Observer receives the intermediate results of a turn. Every field is
// optional.
type Observer struct {
	OnPlan     func(PlanResult)
	OnResearch func(research.Progress)
	OnReport   func(research.Report)
	OnEvent    func(stream.Event) error
}

type TurnResult struct {
	RequestID string              `json:"requestId"`
	Plan      PlanResult          `json:"plan"`
	Report    *research.Report    `json:"report,omitempty"`
	Result    stream.Result       `json:"result"`
	Stored    []conversation.Turn `json:"stored"`
}

// Turn answers prompt inside a session: it loads history and goal, optionally
// folds a deep-research report into the context, plans and searches, streams
// the answer and appends the user and assistant turns to the store.
func (s *Service) Turn(ctx context.Context, sessionID, prompt string, opts TurnOptions, obs Observer) (TurnResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return TurnResult{}, errors.New("prompt is required")
	}

	requestID, ctx, done := s.begin(ctx, opts.RequestID)
	defer done()
	ctx = logger.WithSessionID(ctx, sessionID)
	log := s.log.WithContext(ctx)

	out := TurnResult{RequestID: requestID}

	st, err := s.settings.Current(ctx)
	if err != nil {
		return out, fmt.Errorf("load settings: %w", err)
	}
	if opts.AutoSearch != nil {
		st.AutoSearch = *opts.AutoSearch
	}

	history, err := s.store.History(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		return out, fmt.Errorf("load history: %w", err)
	}
	goal, err := s.store.Goal(ctx, sessionID)
	if err != nil {
		return out, fmt.Errorf("load goal: %w", err)
	}

	var contextText string
	if opts.DeepResearch {
		report, err := s.runDeepResearch(ctx, st, research.Request{Topic: prompt, Model: opts.Model}, obs.OnResearch)
		switch {
		case ctx.Err() != nil:
			out.Result = stream.Result{Status: stream.StatusAborted}
			return out, nil
		case errors.Is(err, research.ErrOffline):
			log.Warn("deep research skipped while offline")
		case err != nil:
			log.LogError(ctx, "deep research failed", err)
		default:
			out.Report = &report
			contextText = report.ContextBlock()
			if obs.OnReport != nil {
				obs.OnReport(report)
			}
		}
	}

	plan, err := s.PlanAndSearch(ctx, history, prompt, goal, st)
	if err != nil {
		if ctx.Err() != nil {
			out.Result = stream.Result{Status: stream.StatusAborted}
			return out, nil
		}
		return out, err
	}
	out.Plan = plan
	if obs.OnPlan != nil {
		obs.OnPlan(plan)
	}
	if !plan.Outcome.Empty() {
		contextText = joinContext(contextText, plan.Outcome.Text)
	} else {
		contextText = joinContext(contextText, priorContext(history))
	}

	emit := obs.OnEvent
	if emit == nil {
		emit = func(stream.Event) error { return nil }
	}
	result, streamErr := s.streamAnswer(ctx, st, StreamRequest{
		History: history,
		Prompt:  prompt,
		Context: contextText,
		Model:   opts.Model,
	}, emit)
	out.Result = result

	stored, err := s.record(ctx, sessionID, prompt, plan, result)
	out.Stored = stored
	if streamErr != nil {
		return out, streamErr
	}
	return out, err
}

// record appends the user turn and, when something was generated, the
// assistant turn. Aborted turns still keep their partial answer.
func (s *Service) record(ctx context.Context, sessionID, prompt string, plan PlanResult, result stream.Result) ([]conversation.Turn, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.cfg.Now().UTC()
	turns := []conversation.Turn{{Role: conversation.RoleUser, Content: prompt, CreatedAt: now}}

	if strings.TrimSpace(result.Answer) != "" {
		queries := make([]string, 0, len(plan.Outcome.Queries)+len(result.DirectiveQueries))
		queries = append(queries, plan.Outcome.Queries...)
		queries = append(queries, result.DirectiveQueries...)

		meta := conversation.Meta{
			Context:        result.Context,
			ContextQueries: queries,
			UsedWebSearch:  !plan.Outcome.Empty() || len(result.DirectiveQueries) > 0,
		}
		if meta.UsedWebSearch {
			meta.RetrievedAt = now
			if !plan.Outcome.RetrievedAt.IsZero() {
				meta.RetrievedAt = plan.Outcome.RetrievedAt
			}
		}
		turns = append(turns, conversation.Turn{
			Role:      conversation.RoleAssistant,
			Content:   result.Answer,
			CreatedAt: now,
			Meta:      meta,
		})
	}

	stored, err := s.store.Append(ctx, sessionID, turns...)
	if err != nil {
		return nil, fmt.Errorf("store turns: %w", err)
	}
	return stored, nil
}

// priorContext returns the context stored with the newest assistant turn
// that has one.
func priorContext(history []conversation.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleAssistant && history[i].HasContext() {
			return history[i].Meta.Context
		}
	}
	return ""
}

func joinContext(existing, addition string) string {
	existing = strings.TrimSpace(existing)
	addition = strings.TrimSpace(addition)
	switch {
	case existing == "":
		return addition
	case addition == "":
		return existing
	}
	return existing + "\n\n" + addition
}
