package research

import (
	"context"
	"errors"
	"time"

	"webchat/backend/internal/search"
)

const (
	MinIterations      = 3
	MaxIterations      = 5
	maxPoolQueries     = 8
	maxFindingsPerPass = 3
	maxFollowUps       = 2
	maxModelQueries    = 2
	maxSources         = 5
	SummaryCharLimit   = 1800
	defaultResults     = 6
	defaultRunTimeout  = 180 * time.Second
)

var (
	ErrOffline      = errors.New("deep research needs network access but the search backend is unreachable")
	ErrMissingTopic = errors.New("deep research topic is required")
)

type Stage string

const (
	StagePlanning            Stage = "planning"
	StageIterationStart      Stage = "iteration-start"
	StageIterationReview     Stage = "iteration-review"
	StageIterationReflection Stage = "iteration-reflection"
	StageModelDraft          Stage = "model-draft"
	StageModelEval           Stage = "model-eval"
	StageIterationError      Stage = "iteration-error"
	StageModelError          Stage = "model-error"
	StageComplete            Stage = "complete"
	StageError               Stage = "error"
)

type Verdict string

const (
	VerdictGood   Verdict = "good"
	VerdictRevise Verdict = "revise"
)

// Progress is a notification only. Nothing in the final Report depends on
// whether anyone listened.
type Progress struct {
	Stage      Stage    `json:"stage"`
	Message    string   `json:"message"`
	Iteration  int      `json:"iteration,omitempty"`
	Iterations int      `json:"iterations,omitempty"`
	Query      string   `json:"query,omitempty"`
	Findings   int      `json:"findings,omitempty"`
	Queries    []string `json:"queries,omitempty"`
	Draft      string   `json:"draft,omitempty"`
	Verdict    Verdict  `json:"verdict,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type Request struct {
	Topic       string   `json:"topic"`
	Model       string   `json:"model,omitempty"`
	Iterations  int      `json:"iterations,omitempty"`
	ResultLimit int      `json:"resultLimit,omitempty"`
	SeedQueries []string `json:"seedQueries,omitempty"`
}

// Pass is one search-review-reflect-draft cycle.
type Pass struct {
	Iteration    int            `json:"iteration"`
	Query        string         `json:"query"`
	Findings     []search.Entry `json:"findings"`
	FollowUps    []string       `json:"followUps,omitempty"`
	Reflection   string         `json:"reflection,omitempty"`
	ModelQueries []string       `json:"modelQueries,omitempty"`
	Answer       string         `json:"answer,omitempty"`
	Review       string         `json:"review,omitempty"`
	Verdict      Verdict        `json:"verdict,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type Report struct {
	Topic    string   `json:"topic"`
	Timeline []Pass   `json:"timeline"`
	Summary  string   `json:"summary"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Queries  []string `json:"queries"`
}

type Searcher interface {
	Search(ctx context.Context, queries []string, limit int) (search.Outcome, error)
}

type PromptResponder interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

type Reachability interface {
	Online(ctx context.Context) bool
}
