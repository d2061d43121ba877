package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"webchat/backend/internal/conversation"
	"webchat/backend/internal/llm"
	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
	"webchat/backend/internal/planner"
	"webchat/backend/internal/research"
	"webchat/backend/internal/search"
	"webchat/backend/internal/session"
	"webchat/backend/internal/settings"
	"webchat/backend/internal/stream"
)

const (
	defaultHistoryLimit = 40
	offlineMessage      = "offline: web search skipped because the network is unreachable"
	researchSystem      = "You are a careful research assistant. Follow the requested output format exactly."
)

type Searcher interface {
	Search(ctx context.Context, queries []string, limit int) (search.Outcome, error)
}

type Reachability interface {
	Online(ctx context.Context) bool
}

// Backend is a generation backend: streaming answers, side-call completions
// and model listing.
type Backend interface {
	stream.Streamer
	llm.Completer
	ListModels(ctx context.Context) ([]llm.Model, error)
}

// BackendFactory builds a backend for the base URL and API style in s.
type BackendFactory func(s settings.Settings) Backend

type Config struct {
	DirectiveCap       int
	GenerationTimeout  time.Duration
	SideCallTimeout    time.Duration
	ResearchIterations int
	ResearchTimeout    time.Duration
	HistoryLimit       int
	Now                func() time.Time
}

type Deps struct {
	Store    session.Store
	Settings settings.Provider
	Searcher Searcher
	Online   Reachability
	Backend  BackendFactory
	Registry *stream.Registry
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// Service ties planning, search, deep research and streaming into the
// operations a chat front end calls.
type Service struct {
	cfg        Config
	store      session.Store
	settings   settings.Provider
	searcher   Searcher
	online     Reachability
	newBackend BackendFactory
	registry   *stream.Registry
	log        *logger.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	backends map[string]Backend
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("assistant: session store is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("assistant: settings provider is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("assistant: backend factory is required")
	}
	if deps.Registry == nil {
		deps.Registry = stream.NewRegistry()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		settings:   deps.Settings,
		searcher:   deps.Searcher,
		online:     deps.Online,
		newBackend: deps.Backend,
		registry:   deps.Registry,
		log:        logger.OrNop(deps.Log).WithComponent("assistant"),
		metrics:    deps.Metrics,
		backends:   make(map[string]Backend),
	}, nil
}

// PlanResult is the outcome of planAndSearch. Outcome is empty when the plan
// did not search or the network was unreachable.
type PlanResult struct {
	Plan    planner.Plan   `json:"plan"`
	Outcome search.Outcome `json:"outcome"`
	Offline bool           `json:"offline,omitempty"`
	Message string         `json:"message"`
}

// PlanAndSearch decides whether the prompt needs fresh web context and runs
// the search when it does. Only cancellation of ctx is returned as an error.
func (s *Service) PlanAndSearch(ctx context.Context, history []conversation.Turn, prompt, goal string, st settings.Settings) (PlanResult, error) {
	plan := planner.Decide(planner.Input{
		History:    history,
		Prompt:     prompt,
		Goal:       goal,
		AutoSearch: st.AutoSearch,
		Now:        s.cfg.Now(),
	})
	s.metrics.PlannerDecision(string(plan.Reason))
	result := PlanResult{Plan: plan, Message: plan.Message}
	if !plan.ShouldSearch {
		return result, nil
	}

	if s.online != nil && !s.online.Online(ctx) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Offline = true
		result.Message = offlineMessage
		s.log.WithContext(ctx).Warn("skipping search while offline", "queries", len(plan.Queries))
		return result, nil
	}
	if s.searcher == nil {
		return result, nil
	}

	outcome, err := s.searcher.Search(ctx, plan.Queries, st.ResultLimit)
	if err != nil {
		return result, err
	}
	result.Outcome = outcome
	return result, nil
}

type StreamRequest struct {
	RequestID string
	History   []conversation.Turn
	Prompt    string
	Context   string
	Model     string
}

// StreamAnswer streams one answer under a cancellable request id. An empty
// RequestID gets a generated one.
func (s *Service) StreamAnswer(ctx context.Context, req StreamRequest, emit func(stream.Event) error) (stream.Result, error) {
	_, ctx, done := s.begin(ctx, req.RequestID)
	defer done()

	st, err := s.settings.Current(ctx)
	if err != nil {
		return stream.Result{Status: stream.StatusError}, fmt.Errorf("load settings: %w", err)
	}
	return s.streamAnswer(ctx, st, req, emit)
}

func (s *Service) streamAnswer(ctx context.Context, st settings.Settings, req StreamRequest, emit func(stream.Event) error) (stream.Result, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = st.Model
	}
	controller := stream.NewController(stream.Config{
		DirectiveCap:      s.cfg.DirectiveCap,
		ResultLimit:       st.ResultLimit,
		GenerationTimeout: s.cfg.GenerationTimeout,
		Now:               s.cfg.Now,
	}, s.backend(st), s.searcher, s.online, s.log, s.metrics)

	return controller.Run(ctx, stream.Turn{
		History: req.History,
		Prompt:  req.Prompt,
		Context: req.Context,
		Model:   model,
	}, emit)
}

// ResearchRequest is a research.Request run under a cancellable request id.
type ResearchRequest struct {
	RequestID string
	research.Request
}

// RunDeepResearch runs a multi-pass research loop on req.Topic. Drafts and
// reviews use req.Model, or the configured model when it is empty.
func (s *Service) RunDeepResearch(ctx context.Context, req ResearchRequest, onProgress func(research.Progress)) (research.Report, error) {
	_, ctx, done := s.begin(ctx, req.RequestID)
	defer done()

	st, err := s.settings.Current(ctx)
	if err != nil {
		return research.Report{}, fmt.Errorf("load settings: %w", err)
	}
	return s.runDeepResearch(ctx, st, req.Request, onProgress)
}

func (s *Service) runDeepResearch(ctx context.Context, st settings.Settings, req research.Request, onProgress func(research.Progress)) (research.Report, error) {
	if strings.TrimSpace(req.Model) == "" {
		req.Model = st.Model
	}
	if req.Iterations == 0 {
		req.Iterations = s.cfg.ResearchIterations
	}
	backend := s.backend(st)
	orchestrator := research.NewOrchestrator(research.Config{
		DefaultIterations: s.cfg.ResearchIterations,
		ResultLimit:       st.ResultLimit,
		Timeout:           s.cfg.ResearchTimeout,
		Responder: func(model string) research.PromptResponder {
			responder := llm.NewResponder(backend, model, researchSystem, s.cfg.SideCallTimeout)
			if responder == nil {
				return nil
			}
			return responder
		},
		Now: s.cfg.Now,
	}, s.searcher, s.online, s.log, s.metrics)
	return orchestrator.Run(ctx, req, onProgress)
}

// Cancel stops the request with the given id. It is best effort: a request
// that already finished reports false.
func (s *Service) Cancel(requestID string) bool {
	ok := s.registry.Cancel(strings.TrimSpace(requestID))
	if ok {
		s.log.Info("request canceled", "request_id", requestID)
	}
	return ok
}

func (s *Service) Settings(ctx context.Context) (settings.Settings, error) {
	return s.settings.Current(ctx)
}

func (s *Service) ListModels(ctx context.Context) ([]llm.Model, error) {
	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s.backend(st).ListModels(ctx)
}

func (s *Service) CreateSession(ctx context.Context, title string) (session.Session, error) {
	return s.store.CreateSession(ctx, strings.Join(strings.Fields(title), " "))
}

func (s *Service) History(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	return s.store.History(ctx, sessionID, 0)
}

// begin registers the request for cancellation and tags ctx with its id.
func (s *Service) begin(ctx context.Context, requestID string) (string, context.Context, func()) {
	requestID = strings.TrimSpace(requestID)
	var done func()
	if requestID == "" {
		requestID, ctx, done = s.registry.Begin(ctx)
	} else {
		_, ctx, done = s.registry.BeginWithID(ctx, requestID)
	}
	return requestID, logger.WithRequestID(ctx, requestID), done
}

// backend returns one client per backend URL and API style.
func (s *Service) backend(st settings.Settings) Backend {
	key := st.APIStyle + " " + st.BackendURL
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.backends[key]; ok {
		return b
	}
	b := s.newBackend(st)
	s.backends[key] = b
	return b
}
