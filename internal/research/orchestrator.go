package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
	"webchat/backend/internal/search"
)

type Config struct {
	DefaultIterations int
	ResultLimit       int
	Timeout           time.Duration
	// Responder returns the side-call responder for a model, or nil when no
	// model is configured.
	Responder func(model string) PromptResponder
	Now       func() time.Time
}

// Orchestrator runs multi-pass research. Passes are sequential because each
// pass's follow-up queries come from the previous pass's findings.
type Orchestrator struct {
	cfg      Config
	searcher Searcher
	online   Reachability
	log      *logger.Logger
	metrics  *metrics.Metrics
}

func NewOrchestrator(cfg Config, searcher Searcher, online Reachability, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.DefaultIterations == 0 {
		cfg.DefaultIterations = MinIterations
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = defaultResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRunTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		cfg:      cfg,
		searcher: searcher,
		online:   online,
		log:      logger.OrNop(log).WithComponent("research"),
		metrics:  m,
	}
}

// runState is owned by a single Run call.
type runState struct {
	topic      string
	pool       *queryPool
	seen       map[string]struct{}
	all        []search.Entry
	timeline   []Pass
	lastDraft  string
	accepted   string
	reflection string
}

// Run executes up to req.Iterations passes. Without a responder for req.Model
// no drafts or model query suggestions are produced. Pass failures are
// recorded in the timeline; only a missing topic, an offline backend or
// cancellation of ctx end the run with an error.
func (o *Orchestrator) Run(ctx context.Context, req Request, onProgress func(Progress)) (Report, error) {
	topic := strings.Join(strings.Fields(req.Topic), " ")
	if topic == "" {
		emit(onProgress, Progress{Stage: StageError, Message: ErrMissingTopic.Error(), Error: ErrMissingTopic.Error()})
		return Report{}, ErrMissingTopic
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	log := o.log.WithContext(ctx).WithFields("topic", topic)

	if o.online != nil && !o.online.Online(ctx) {
		emit(onProgress, Progress{Stage: StageError, Message: ErrOffline.Error(), Error: ErrOffline.Error()})
		return Report{Topic: topic}, ErrOffline
	}

	iterations := req.Iterations
	if iterations == 0 {
		iterations = o.cfg.DefaultIterations
	}
	iterations = clampInt(iterations, MinIterations, MaxIterations)
	limit := req.ResultLimit
	if limit <= 0 {
		limit = o.cfg.ResultLimit
	}
	limit = search.ClampLimit(limit)

	var advisor modelAdvisor
	if o.cfg.Responder != nil && strings.TrimSpace(req.Model) != "" {
		advisor.responder = o.cfg.Responder(strings.TrimSpace(req.Model))
	}
	state := &runState{
		topic: topic,
		pool:  seedPool(topic, req.SeedQueries, o.cfg.Now()),
		seen:  make(map[string]struct{}),
	}
	emit(onProgress, Progress{
		Stage:      StagePlanning,
		Message:    fmt.Sprintf("Planning %d research passes", iterations),
		Iterations: iterations,
		Queries:    state.pool.snapshot(),
	})

	for iteration := 1; iteration <= iterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return o.report(state), err
		}
		accepted := o.runPass(ctx, state, advisor, iteration, iterations, limit, onProgress)
		if err := ctx.Err(); err != nil {
			log.Info("research canceled", "passes", len(state.timeline))
			return o.report(state), err
		}
		if accepted {
			break
		}
	}

	report := o.report(state)
	emit(onProgress, Progress{
		Stage:      StageComplete,
		Message:    fmt.Sprintf("Research finished after %d pass%s with %d source%s", len(report.Timeline), pluralES(len(report.Timeline)), len(report.Sources), pluralS(len(report.Sources))),
		Iterations: iterations,
		Findings:   len(state.all),
	})
	log.Info("research complete", "passes", len(report.Timeline), "sources", len(report.Sources), "answered", report.Answer != "")
	return report, nil
}

// runPass performs one pass and reports whether the model accepted a draft.
func (o *Orchestrator) runPass(ctx context.Context, state *runState, advisor modelAdvisor, iteration, iterations, limit int, onProgress func(Progress)) bool {
	query := state.pool.take()
	pass := Pass{Iteration: iteration, Query: query}
	defer func() { state.timeline = append(state.timeline, pass) }()

	emit(onProgress, Progress{
		Stage:      StageIterationStart,
		Message:    fmt.Sprintf("Pass %d of %d: searching %q", iteration, iterations, query),
		Iteration:  iteration,
		Iterations: iterations,
		Query:      query,
	})

	outcome, err := o.search(ctx, query, limit)
	if err != nil {
		pass.Error = err.Error()
		o.metrics.ResearchPass("error")
		emit(onProgress, Progress{Stage: StageIterationError, Message: "Search failed for this pass", Iteration: iteration, Query: query, Error: pass.Error})
		return false
	}

	for _, entry := range outcome.Entries {
		if len(pass.Findings) >= maxFindingsPerPass {
			break
		}
		key := search.DedupeKey(entry.URL)
		if _, ok := state.seen[key]; ok {
			continue
		}
		state.seen[key] = struct{}{}
		pass.Findings = append(pass.Findings, entry)
	}
	state.all = append(state.all, pass.Findings...)
	if len(pass.Findings) == 0 {
		o.metrics.ResearchPass("empty")
	} else {
		o.metrics.ResearchPass("ok")
	}

	for _, followUp := range deriveFollowUps(state.topic, pass.Findings, state.pool, maxFollowUps) {
		if state.pool.add(followUp) {
			pass.FollowUps = append(pass.FollowUps, followUp)
		}
	}
	emit(onProgress, Progress{
		Stage:     StageIterationReview,
		Message:   fmt.Sprintf("Pass %d found %d new source%s", iteration, len(pass.Findings), pluralS(len(pass.Findings))),
		Iteration: iteration,
		Query:     query,
		Findings:  len(pass.Findings),
		Queries:   pass.FollowUps,
	})

	r := reflect(state.topic, state.all, iteration, state.pool)
	pass.Reflection = r.Text
	state.reflection = r.Text
	emit(onProgress, Progress{
		Stage:     StageIterationReflection,
		Message:   r.Text,
		Iteration: iteration,
		Findings:  len(state.all),
		Queries:   r.Queries,
	})

	if !advisor.enabled() {
		return false
	}

	suggested, err := advisor.suggestQueries(ctx, state.topic, pass, state.pool.snapshot())
	if err != nil {
		o.modelError(ctx, onProgress, iteration, "query suggestion", err)
	}
	for _, q := range suggested {
		if state.pool.add(q) {
			pass.ModelQueries = append(pass.ModelQueries, q)
		}
	}

	if len(pass.Findings) == 0 {
		return false
	}

	draft, err := advisor.draft(ctx, state.topic, pass.Findings, state.lastDraft, state.reflection)
	if err != nil {
		o.modelError(ctx, onProgress, iteration, "draft", err)
		return false
	}
	pass.Answer = draft
	state.lastDraft = draft
	emit(onProgress, Progress{Stage: StageModelDraft, Message: "Drafted an answer from the evidence", Iteration: iteration, Draft: draft})

	review, err := advisor.review(ctx, state.topic, draft, pass.Findings)
	if err != nil {
		o.modelError(ctx, onProgress, iteration, "review", err)
		return false
	}
	pass.Verdict = review.Verdict
	pass.Review = review.Critique
	emit(onProgress, Progress{Stage: StageModelEval, Message: evalMessage(review), Iteration: iteration, Verdict: review.Verdict})

	if review.Verdict == VerdictGood {
		state.accepted = draft
		return true
	}
	return false
}

func (o *Orchestrator) search(ctx context.Context, query string, limit int) (search.Outcome, error) {
	if o.searcher == nil {
		return search.Outcome{}, fmt.Errorf("no searcher configured")
	}
	if query == "" {
		return search.Outcome{}, fmt.Errorf("query pool is empty")
	}
	return o.searcher.Search(ctx, []string{query}, limit)
}

func (o *Orchestrator) modelError(ctx context.Context, onProgress func(Progress), iteration int, step string, err error) {
	o.log.WithContext(ctx).Warn("research side call failed", "step", step, "iteration", iteration, "error", err)
	emit(onProgress, Progress{
		Stage:     StageModelError,
		Message:   fmt.Sprintf("Model %s failed; continuing", step),
		Iteration: iteration,
		Error:     err.Error(),
	})
}

func evalMessage(review reviewResponse) string {
	if review.Verdict == VerdictGood {
		return "Draft accepted"
	}
	if review.Critique != "" {
		return "Draft needs revision: " + review.Critique
	}
	return "Draft needs revision"
}

func emit(onProgress func(Progress), progress Progress) {
	if onProgress != nil {
		onProgress(progress)
	}
}

func clampInt(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
