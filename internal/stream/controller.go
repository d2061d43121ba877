package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"webchat/backend/internal/conversation"
	"webchat/backend/internal/llm"
	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
	"webchat/backend/internal/search"
)

const (
	DefaultDirectiveCap = 2
	defaultResultLimit  = 5

	// FallbackAnswer replaces the answer when the model keeps asking for more searches.
	FallbackAnswer = "I searched the web several times for this question but still could not find enough " +
		"reliable information to answer it. Try rephrasing the question or asking about a narrower part of it."

	baseSystemPrompt = "You are a helpful assistant. Answer clearly and cite sources from the provided web context by their [n] marker when you use them."

	directiveInstructions = "If you need current information from the web that is not already in the provided context, " +
		"respond with exactly [[search: <query>]] as the very first thing in your reply and nothing else. " +
		"Otherwise answer the user directly."

	offlineStatus = "offline: web search skipped because the network is unreachable"
)

var errDirectiveDetected = errors.New("search directive detected")

type Status string

const (
	StatusDone    Status = "done"
	StatusAborted Status = "aborted"
	StatusError   Status = "error"
)

type EventType string

const (
	EventToken     EventType = "token"
	EventReasoning EventType = "reasoning"
	EventSearch    EventType = "search"
	EventStatus    EventType = "status"
)

// Event is a notification for the caller while a turn is generated.
type Event struct {
	Type      EventType       `json:"type"`
	Delta     string          `json:"delta,omitempty"`
	Full      string          `json:"full,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Query     string          `json:"query,omitempty"`
	Message   string          `json:"message,omitempty"`
	Outcome   *search.Outcome `json:"outcome,omitempty"`
}

type Timing struct {
	LoadMs          int64   `json:"loadMs"`
	GenerationMs    int64   `json:"generationMs"`
	TotalMs         int64   `json:"totalMs"`
	Tokens          int     `json:"tokens"`
	TokensPerSecond float64 `json:"tokensPerSecond"`
}

type Result struct {
	Status           Status     `json:"status"`
	Answer           string     `json:"answer"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Context          string     `json:"-"`
	DirectiveQueries []string   `json:"directiveQueries,omitempty"`
	Fallback         bool       `json:"fallback,omitempty"`
	Timing           Timing     `json:"timing"`
	Usage            *llm.Usage `json:"usage,omitempty"`
}

// Turn is everything one generation needs.
type Turn struct {
	History []conversation.Turn
	Prompt  string
	Context string
	Model   string
}

type Streamer interface {
	StreamChatCompletion(
		ctx context.Context,
		req llm.StreamRequest,
		onStart func() error,
		onDelta func(string) error,
		onReasoning func(string) error,
		onUsage func(llm.Usage) error,
	) error
}

type Searcher interface {
	Search(ctx context.Context, queries []string, limit int) (search.Outcome, error)
}

type Reachability interface {
	Online(ctx context.Context) bool
}

type Config struct {
	// DirectiveCap bounds supplemental searches per turn. It is separate from
	// the planner's query budget.
	DirectiveCap      int
	ResultLimit       int
	GenerationTimeout time.Duration
	Now               func() time.Time
}

type Controller struct {
	cfg      Config
	streamer Streamer
	searcher Searcher
	online   Reachability
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewController wires a controller. online may be nil, in which case
// supplemental searches always run.
func NewController(cfg Config, streamer Streamer, searcher Searcher, online Reachability, log *logger.Logger, m *metrics.Metrics) *Controller {
	if cfg.DirectiveCap < 0 {
		cfg.DirectiveCap = 0
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = defaultResultLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:      cfg,
		streamer: streamer,
		searcher: searcher,
		online:   online,
		log:      logger.OrNop(log).WithComponent("stream"),
		metrics:  m,
	}
}

// Run generates one answer. A leading search directive triggers a
// supplemental search and a fresh generation with the enlarged context, at
// most DirectiveCap times. While offline a directive goes straight to the
// fallback answer without searching. Cancellation of ctx yields StatusAborted
// and a nil error; backend failures yield StatusError.
func (c *Controller) Run(ctx context.Context, turn Turn, emit func(Event) error) (Result, error) {
	if emit == nil {
		emit = func(Event) error { return nil }
	}
	runStart := c.cfg.Now()
	result := Result{Context: strings.TrimSpace(turn.Context)}
	log := c.log.WithContext(ctx)

	finish := func(status Status, answer string, attemptStart, firstByte time.Time) Result {
		end := c.cfg.Now()
		result.Status = status
		result.Answer = answer
		result.Timing = measure(runStart, attemptStart, firstByte, end, answer)
		c.metrics.Generation(string(status), end.Sub(runStart))
		return result
	}
	fallback := func(attempt attemptResult) (Result, error) {
		result.Fallback = true
		if err := emit(Event{Type: EventToken, Delta: FallbackAnswer, Full: FallbackAnswer}); err != nil {
			return finish(StatusError, FallbackAnswer, attempt.start, attempt.firstByte), err
		}
		return finish(StatusDone, FallbackAnswer, attempt.start, attempt.firstByte), nil
	}

	for {
		attempt := c.attempt(ctx, turn, result.Context, emit)
		if attempt.reasoning != "" {
			result.Reasoning = attempt.reasoning
		}
		if attempt.usage != nil {
			result.Usage = attempt.usage
		}

		if attempt.directive != nil {
			if len(result.DirectiveQueries) >= c.cfg.DirectiveCap {
				log.Warn("directive cap reached, answering with fallback", "cap", c.cfg.DirectiveCap, "query", attempt.directive.Query)
				return fallback(attempt)
			}

			query := attempt.directive.Query
			if c.online != nil && !c.online.Online(ctx) {
				if ctx.Err() != nil {
					return finish(StatusAborted, "", attempt.start, attempt.firstByte), nil
				}
				log.Warn("skipping supplemental search while offline", "query", query)
				if err := emit(Event{Type: EventStatus, Query: query, Message: offlineStatus}); err != nil {
					return finish(StatusError, "", attempt.start, attempt.firstByte), err
				}
				return fallback(attempt)
			}
			result.DirectiveQueries = append(result.DirectiveQueries, query)
			c.metrics.DirectiveRestart()
			log.Info("model requested supplemental search", "query", query, "restart", len(result.DirectiveQueries))
			if err := emit(Event{Type: EventStatus, Query: query, Message: fmt.Sprintf("Searching the web for %q", query)}); err != nil {
				return finish(StatusError, "", attempt.start, attempt.firstByte), err
			}

			outcome, err := c.supplementalSearch(ctx, query)
			if err != nil {
				if ctx.Err() != nil {
					return finish(StatusAborted, "", attempt.start, attempt.firstByte), nil
				}
				return finish(StatusError, "", attempt.start, attempt.firstByte), err
			}
			if err := emit(Event{Type: EventSearch, Query: query, Outcome: &outcome}); err != nil {
				return finish(StatusError, "", attempt.start, attempt.firstByte), err
			}
			if !outcome.Empty() {
				result.Context = appendContext(result.Context, outcome.Text)
			}
			continue
		}

		if ctx.Err() != nil {
			return finish(StatusAborted, attempt.answer, attempt.start, attempt.firstByte), nil
		}
		if attempt.err != nil {
			log.LogError(ctx, "generation failed", attempt.err, "model", turn.Model)
			return finish(StatusError, attempt.answer, attempt.start, attempt.firstByte), attempt.err
		}
		return finish(StatusDone, attempt.answer, attempt.start, attempt.firstByte), nil
	}
}

type attemptResult struct {
	answer    string
	reasoning string
	usage     *llm.Usage
	directive *Directive
	start     time.Time
	firstByte time.Time
	err       error
}

func (c *Controller) attempt(ctx context.Context, turn Turn, contextText string, emit func(Event) error) attemptResult {
	out := attemptResult{start: c.cfg.Now()}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.cfg.GenerationTimeout > 0 {
		var cancelTimeout context.CancelFunc
		genCtx, cancelTimeout = context.WithTimeout(genCtx, c.cfg.GenerationTimeout)
		defer cancelTimeout()
	}

	detector := NewDetector()
	var (
		answer    strings.Builder
		reasoning strings.Builder
	)
	forward := func(text string) error {
		if text == "" {
			return nil
		}
		answer.WriteString(text)
		return emit(Event{Type: EventToken, Delta: text, Full: answer.String()})
	}

	err := c.streamer.StreamChatCompletion(
		genCtx,
		llm.StreamRequest{Model: turn.Model, Messages: BuildMessages(turn.History, turn.Prompt, contextText)},
		nil,
		func(delta string) error {
			if out.firstByte.IsZero() {
				out.firstByte = c.cfg.Now()
			}
			text, directive := detector.Feed(delta)
			if directive != nil {
				out.directive = directive
				cancel()
				return errDirectiveDetected
			}
			return forward(text)
		},
		func(delta string) error {
			reasoning.WriteString(delta)
			return emit(Event{Type: EventReasoning, Delta: delta, Reasoning: reasoning.String()})
		},
		func(usage llm.Usage) error {
			out.usage = &usage
			return nil
		},
	)
	out.reasoning = reasoning.String()
	if out.directive != nil {
		return out
	}
	if err == nil {
		err = forward(detector.Flush())
	}
	out.answer = answer.String()
	out.err = err
	return out
}

func (c *Controller) supplementalSearch(ctx context.Context, query string) (search.Outcome, error) {
	if c.searcher == nil {
		return search.Outcome{Queries: []string{query}}, nil
	}
	return c.searcher.Search(ctx, []string{query}, c.cfg.ResultLimit)
}

// BuildMessages assembles system instructions, history, retrieved context and
// the new prompt in that order.
func BuildMessages(history []conversation.Turn, prompt, contextText string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: "system", Content: baseSystemPrompt + "\n\n" + directiveInstructions})
	for _, turn := range history {
		if turn.Role != conversation.RoleUser && turn.Role != conversation.RoleAssistant {
			continue
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	if contextText = strings.TrimSpace(contextText); contextText != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Web context for the next question:\n\n" + contextText})
	}
	return append(messages, llm.Message{Role: "user", Content: prompt})
}

func appendContext(existing, addition string) string {
	existing = strings.TrimSpace(existing)
	addition = strings.TrimSpace(addition)
	if existing == "" {
		return addition
	}
	return existing + "\n\n" + addition
}

func measure(runStart, attemptStart, firstByte, end time.Time, answer string) Timing {
	timing := Timing{
		TotalMs: end.Sub(runStart).Milliseconds(),
		Tokens:  len(strings.Fields(answer)),
	}
	if firstByte.IsZero() {
		return timing
	}
	timing.LoadMs = firstByte.Sub(attemptStart).Milliseconds()
	generation := end.Sub(firstByte)
	timing.GenerationMs = generation.Milliseconds()
	if generation > 0 && timing.Tokens > 0 {
		timing.TokensPerSecond = float64(timing.Tokens) / generation.Seconds()
	}
	return timing
}
