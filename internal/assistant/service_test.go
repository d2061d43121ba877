package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"webchat/backend/internal/conversation"
	"webchat/backend/internal/llm"
	"webchat/backend/internal/research"
	"webchat/backend/internal/search"
	"webchat/backend/internal/session"
	"webchat/backend/internal/settings"
	"webchat/backend/internal/stream"
)

type fakeBackend struct {
	mu          sync.Mutex
	chunks      []string
	block       bool
	started     chan struct{}
	requests    []llm.StreamRequest
	completeErr error
}

func (b *fakeBackend) StreamChatCompletion(
	ctx context.Context,
	req llm.StreamRequest,
	_ func() error,
	onDelta func(string) error,
	_ func(string) error,
	_ func(llm.Usage) error,
) error {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	for _, chunk := range b.chunks {
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	if b.block {
		if b.started != nil {
			close(b.started)
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (b *fakeBackend) Complete(context.Context, string, []llm.Message) (string, error) {
	if b.completeErr != nil {
		return "", b.completeErr
	}
	return "", errors.New("no side calls scripted")
}

func (b *fakeBackend) ListModels(context.Context) ([]llm.Model, error) {
	return []llm.Model{{ID: "llama3.1", Name: "llama3.1"}}, nil
}

func (b *fakeBackend) lastRequest(t *testing.T) llm.StreamRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *fakeSearcher) Search(_ context.Context, queries []string, _ int) (search.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), queries...))
	n := len(s.calls)
	s.mu.Unlock()

	outcome := search.Outcome{
		Queries:     queries,
		RetrievedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		Entries: []search.Entry{{
			Title:     "Result " + strings.Repeat("I", n),
			URL:       "https://example.com/" + strings.Repeat("a", n),
			Snippet:   "Heat pumps move heat rather than generating it.",
			QueryUsed: queries[0],
		}},
	}
	outcome.Text = search.Render(outcome)
	return outcome, nil
}

func (s *fakeSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixedReachability bool

func (r fixedReachability) Online(context.Context) bool { return bool(r) }

func testSettings() settings.Static {
	return settings.Static{
		AutoSearch:  true,
		ResultLimit: 4,
		BackendURL:  "http://backend.test",
		APIStyle:    "native",
		Model:       "llama3.1",
	}
}

func newTestService(t *testing.T, backend *fakeBackend, searcher *fakeSearcher, online bool) (*Service, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	svc, err := NewService(Config{DirectiveCap: 2, ResearchIterations: 3}, Deps{
		Store:    store,
		Settings: testSettings(),
		Searcher: searcher,
		Online:   fixedReachability(online),
		Backend:  func(settings.Settings) Backend { return backend },
	})
	require.NoError(t, err)
	return svc, store
}

const heatPumpPrompt = "How do heat pumps work in cold climates?"

func TestPlanAndSearchRunsQueriesForUngroundedPrompt(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, _ := newTestService(t, &fakeBackend{}, searcher, true)

	result, err := svc.PlanAndSearch(context.Background(), nil, heatPumpPrompt, "", settings.Settings(testSettings()))
	require.NoError(t, err)
	require.True(t, result.Plan.ShouldSearch)
	require.False(t, result.Offline)
	require.Len(t, result.Outcome.Entries, 1)
	require.Equal(t, 1, searcher.callCount())
	require.Equal(t, heatPumpPrompt, searcher.calls[0][0])
}

func TestPlanAndSearchSkipsSearchWhileOffline(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, _ := newTestService(t, &fakeBackend{}, searcher, false)

	result, err := svc.PlanAndSearch(context.Background(), nil, heatPumpPrompt, "", settings.Settings(testSettings()))
	require.NoError(t, err)
	require.True(t, result.Offline)
	require.True(t, result.Outcome.Empty())
	require.True(t, strings.HasPrefix(result.Message, "offline"))
	require.Zero(t, searcher.callCount())
}

func TestPlanAndSearchHonorsDisabledAutoSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, _ := newTestService(t, &fakeBackend{}, searcher, true)

	st := settings.Settings(testSettings())
	st.AutoSearch = false
	result, err := svc.PlanAndSearch(context.Background(), nil, heatPumpPrompt, "", st)
	require.NoError(t, err)
	require.True(t, result.Plan.Disabled)
	require.False(t, result.Plan.ShouldSearch)
	require.NotEmpty(t, result.Plan.Queries)
	require.Zero(t, searcher.callCount())
}

func TestTurnStreamsAndStoresBothTurns(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"Heat pumps ", "move heat."}}
	searcher := &fakeSearcher{}
	svc, store := newTestService(t, backend, searcher, true)
	sess, err := store.CreateSession(context.Background(), "pumps")
	require.NoError(t, err)

	var (
		plans  []PlanResult
		tokens []string
	)
	result, err := svc.Turn(context.Background(), sess.ID, heatPumpPrompt, TurnOptions{RequestID: "req-1"}, Observer{
		OnPlan: func(p PlanResult) { plans = append(plans, p) },
		OnEvent: func(ev stream.Event) error {
			if ev.Type == stream.EventToken {
				tokens = append(tokens, ev.Delta)
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "req-1", result.RequestID)
	require.Equal(t, stream.StatusDone, result.Result.Status)
	require.Equal(t, "Heat pumps move heat.", result.Result.Answer)
	require.Len(t, plans, 1)
	require.Equal(t, []string{"Heat pumps ", "move heat."}, tokens)

	messages := backend.lastRequest(t).Messages
	require.Equal(t, "llama3.1", backend.lastRequest(t).Model)
	require.Contains(t, messages[len(messages)-2].Content, "Web results")

	history, err := store.History(context.Background(), sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, conversation.RoleUser, history[0].Role)
	require.Equal(t, conversation.RoleAssistant, history[1].Role)
	require.True(t, history[1].Meta.UsedWebSearch)
	require.Equal(t, []string{heatPumpPrompt}, history[1].Meta.ContextQueries)
	require.Contains(t, history[1].Meta.Context, "Result I")
	require.Zero(t, svc.registry.Active())
}

func TestTurnFoldsResearchReportIntoContext(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"Summary."}, completeErr: errors.New("side calls unavailable")}
	searcher := &fakeSearcher{}
	svc, store := newTestService(t, backend, searcher, true)
	sess, err := store.CreateSession(context.Background(), "research")
	require.NoError(t, err)

	var (
		stages  []research.Stage
		reports int
	)
	result, err := svc.Turn(context.Background(), sess.ID, heatPumpPrompt, TurnOptions{DeepResearch: true}, Observer{
		OnResearch: func(p research.Progress) { stages = append(stages, p.Stage) },
		OnReport:   func(research.Report) { reports++ },
	})
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	require.Equal(t, 1, reports)
	require.Contains(t, stages, research.StageComplete)
	require.Len(t, result.Report.Timeline, research.MinIterations)

	var system strings.Builder
	for _, msg := range backend.lastRequest(t).Messages {
		if msg.Role == "system" {
			system.WriteString(msg.Content)
		}
	}
	require.Contains(t, system.String(), "Deep research notes for")
	require.Contains(t, system.String(), "Web results")
}

func TestCancelAbortsRunningTurnAndKeepsPartialAnswer(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"Partial answer"}, block: true, started: make(chan struct{})}
	svc, store := newTestService(t, backend, &fakeSearcher{}, true)
	sess, err := store.CreateSession(context.Background(), "cancel")
	require.NoError(t, err)

	type turnOutcome struct {
		result TurnResult
		err    error
	}
	finished := make(chan turnOutcome, 1)
	go func() {
		result, err := svc.Turn(context.Background(), sess.ID, heatPumpPrompt, TurnOptions{RequestID: "req-stop"}, Observer{})
		finished <- turnOutcome{result: result, err: err}
	}()

	select {
	case <-backend.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never started")
	}
	require.True(t, svc.Cancel("req-stop"))

	var outcome turnOutcome
	select {
	case outcome = <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop after cancel")
	}
	require.NoError(t, outcome.err)
	require.Equal(t, stream.StatusAborted, outcome.result.Result.Status)
	require.Equal(t, "Partial answer", outcome.result.Result.Answer)
	require.Len(t, outcome.result.Stored, 2)
	require.False(t, svc.Cancel("req-stop"))
}

func TestStreamAnswerSkipsDirectiveSearchWhileOffline(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"[[search: current weather in Tokyo]]"}}
	searcher := &fakeSearcher{}
	svc, _ := newTestService(t, backend, searcher, false)

	var statuses []stream.Event
	result, err := svc.StreamAnswer(context.Background(), StreamRequest{Prompt: "Weather in Tokyo?"}, func(ev stream.Event) error {
		if ev.Type == stream.EventStatus {
			statuses = append(statuses, ev)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, stream.StatusDone, result.Status)
	require.True(t, result.Fallback)
	require.Zero(t, searcher.callCount())
	require.Len(t, statuses, 1)
	require.Equal(t, offlineMessage, statuses[0].Message)
	require.Zero(t, svc.registry.Active())
}

func TestTurnUnknownSessionIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{}, &fakeSearcher{}, true)

	_, err := svc.Turn(context.Background(), "missing", heatPumpPrompt, TurnOptions{}, Observer{})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestBackendIsBuiltOncePerEndpoint(t *testing.T) {
	builds := 0
	backend := &fakeBackend{}
	svc, err := NewService(Config{}, Deps{
		Store:    session.NewMemoryStore(),
		Settings: testSettings(),
		Backend: func(settings.Settings) Backend {
			builds++
			return backend
		},
	})
	require.NoError(t, err)

	st := settings.Settings(testSettings())
	svc.backend(st)
	svc.backend(st)
	st.APIStyle = "openai"
	svc.backend(st)
	require.Equal(t, 2, builds)

	models, err := svc.ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, "llama3.1", models[0].ID)
}
