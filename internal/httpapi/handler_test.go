package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"webchat/backend/internal/assistant"
	"webchat/backend/internal/config"
	"webchat/backend/internal/llm"
	"webchat/backend/internal/metrics"
	"webchat/backend/internal/search"
	"webchat/backend/internal/session"
	"webchat/backend/internal/settings"
)

type stubBackend struct {
	chunks []string
}

func (b stubBackend) StreamChatCompletion(
	ctx context.Context,
	_ llm.StreamRequest,
	_ func() error,
	onDelta func(string) error,
	_ func(string) error,
	_ func(llm.Usage) error,
) error {
	for _, chunk := range b.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (stubBackend) Complete(context.Context, string, []llm.Message) (string, error) {
	return "", errors.New("side calls disabled in tests")
}

func (stubBackend) ListModels(context.Context) ([]llm.Model, error) {
	return []llm.Model{{ID: "llama3.1", Name: "llama3.1"}}, nil
}

type stubSearcher struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSearcher) Search(_ context.Context, queries []string, _ int) (search.Outcome, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	outcome := search.Outcome{
		Queries:     queries,
		RetrievedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		Entries: []search.Entry{{
			Title:     "Cold climate heat pumps",
			URL:       "https://example.com/pumps/" + strings.Repeat("x", n),
			Snippet:   "Modern units keep working well below freezing.",
			QueryUsed: queries[0],
		}},
	}
	outcome.Text = search.Render(outcome)
	return outcome, nil
}

type alwaysOnline struct{}

func (alwaysOnline) Online(context.Context) bool { return true }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	m := metrics.New()
	svc, err := assistant.NewService(assistant.Config{DirectiveCap: 2, ResearchIterations: 3}, assistant.Deps{
		Store: session.NewMemoryStore(),
		Settings: settings.Static{
			AutoSearch:  true,
			ResultLimit: 4,
			BackendURL:  "http://backend.test",
			APIStyle:    "native",
			Model:       "llama3.1",
		},
		Searcher: &stubSearcher{},
		Online:   alwaysOnline{},
		Backend: func(settings.Settings) assistant.Backend {
			return stubBackend{chunks: []string{"Heat pumps ", "still work."}}
		},
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := config.Config{AllowedOrigins: []string{"http://localhost:5173"}}
	return NewRouter(cfg, svc, m, nil)
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeJSONBody(t *testing.T, resp *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func readSSEEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		for _, line := range strings.Split(block, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var event map[string]any
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				t.Fatalf("decode sse data %q: %v", data, err)
			}
			events = append(events, event)
		}
	}
	return events
}

func eventTypes(events []map[string]any) []string {
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event["type"].(string))
	}
	return types
}

func createSession(t *testing.T, router http.Handler, title string) string {
	t.Helper()
	resp := serve(router, http.MethodPost, "/v1/sessions", `{"title":"`+title+`"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, resp.Code, resp.Body.String())
	}
	var created struct {
		Session session.Session `json:"session"`
	}
	decodeJSONBody(t, resp, &created)
	if created.Session.ID == "" {
		t.Fatal("expected session id to be set")
	}
	return created.Session.ID
}

func TestHealthz(t *testing.T) {
	resp := serve(newTestRouter(t), http.MethodGet, "/healthz", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestCreateSessionNormalizesTitleAndStartsEmpty(t *testing.T) {
	router := newTestRouter(t)
	resp := serve(router, http.MethodPost, "/v1/sessions", `{"title":"  Heat   pumps  "}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, resp.Code)
	}
	var created struct {
		Session session.Session `json:"session"`
	}
	decodeJSONBody(t, resp, &created)
	if created.Session.Title != "Heat pumps" {
		t.Fatalf("unexpected normalized title: %q", created.Session.Title)
	}

	listResp := serve(router, http.MethodGet, "/v1/sessions/"+created.Session.ID+"/turns", "")
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, listResp.Code)
	}
	if !strings.Contains(listResp.Body.String(), `"turns":[]`) {
		t.Fatalf("expected empty turns array, got %s", listResp.Body.String())
	}
}

func TestCreateSessionAcceptsEmptyBody(t *testing.T) {
	resp := serve(newTestRouter(t), http.MethodPost, "/v1/sessions", "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, resp.Code, resp.Body.String())
	}
}

func TestListTurnsUnknownSessionIsNotFound(t *testing.T) {
	resp := serve(newTestRouter(t), http.MethodGet, "/v1/sessions/missing/turns", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestSessionMessagesStreamsTurnAndStoresIt(t *testing.T) {
	router := newTestRouter(t)
	sessionID := createSession(t, router, "pumps")

	resp := serve(router, http.MethodPost, "/v1/sessions/"+sessionID+"/messages",
		`{"message":"How do heat pumps work in cold climates?","requestId":"req-42"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := readSSEEvents(t, resp.Body.String())
	got := strings.Join(eventTypes(events), ",")
	if got != "meta,plan,search,token,token,done" {
		t.Fatalf("unexpected event sequence: %s", got)
	}
	if events[0]["requestId"] != "req-42" {
		t.Fatalf("expected request id echoed, got %v", events[0]["requestId"])
	}
	done := events[len(events)-1]
	if done["answer"] != "Heat pumps still work." {
		t.Fatalf("unexpected answer: %v", done["answer"])
	}

	listResp := serve(router, http.MethodGet, "/v1/sessions/"+sessionID+"/turns", "")
	var listed struct {
		Turns []struct {
			Role string `json:"role"`
			Meta struct {
				UsedWebSearch bool `json:"usedWebSearch"`
			} `json:"meta"`
		} `json:"turns"`
	}
	decodeJSONBody(t, listResp, &listed)
	if len(listed.Turns) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(listed.Turns))
	}
	if listed.Turns[1].Role != "assistant" || !listed.Turns[1].Meta.UsedWebSearch {
		t.Fatalf("unexpected assistant turn: %+v", listed.Turns[1])
	}
}

func TestSessionMessagesValidatesInput(t *testing.T) {
	router := newTestRouter(t)
	sessionID := createSession(t, router, "validation")

	resp := serve(router, http.MethodPost, "/v1/sessions/"+sessionID+"/messages", `{"message":"   "}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for empty message, got %d", http.StatusBadRequest, resp.Code)
	}

	resp = serve(router, http.MethodPost, "/v1/sessions/"+sessionID+"/messages", `{"message":"hi","unknown":true}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for unknown field, got %d", http.StatusBadRequest, resp.Code)
	}

	resp = serve(router, http.MethodPost, "/v1/sessions/missing/messages", `{"message":"hello"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d for unknown session, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestPlanSearchReturnsPlanAndOutcome(t *testing.T) {
	router := newTestRouter(t)

	resp := serve(router, http.MethodPost, "/v1/search/plan", `{"prompt":"How do heat pumps work in cold climates?"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	var result assistant.PlanResult
	decodeJSONBody(t, resp, &result)
	if !result.Plan.ShouldSearch {
		t.Fatalf("expected a search plan, got reason %q", result.Plan.Reason)
	}
	if len(result.Outcome.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Outcome.Entries))
	}

	metricsResp := serve(router, http.MethodGet, "/metrics", "")
	if !strings.Contains(metricsResp.Body.String(), "webchat_planner_decisions_total") {
		t.Fatal("expected planner decision counter in metrics output")
	}
}

func TestResearchStreamsProgressAndReport(t *testing.T) {
	router := newTestRouter(t)

	resp := serve(router, http.MethodPost, "/v1/research", `{"topic":"heat pumps in cold climates","requestId":"research-1"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	events := readSSEEvents(t, resp.Body.String())
	types := eventTypes(events)
	if types[0] != "meta" || types[len(types)-1] != "done" {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	progress := 0
	for _, typ := range types {
		if typ == "progress" {
			progress++
		}
	}
	if progress < 3 {
		t.Fatalf("expected progress events, got %d", progress)
	}

	done := events[len(events)-1]
	report, ok := done["report"].(map[string]any)
	if !ok {
		t.Fatalf("expected report in done event, got %v", done)
	}
	if report["topic"] != "heat pumps in cold climates" {
		t.Fatalf("unexpected report topic: %v", report["topic"])
	}
	if trace, ok := done["trace"].(map[string]any); !ok || trace["status"] != thinkingTraceStatusDone {
		t.Fatalf("expected finished trace, got %v", done["trace"])
	}
}

func TestResearchRejectsMissingTopic(t *testing.T) {
	resp := serve(newTestRouter(t), http.MethodPost, "/v1/research", `{"topic":"  "}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestCancelUnknownRequestReportsFalse(t *testing.T) {
	resp := serve(newTestRouter(t), http.MethodPost, "/v1/requests/nope/cancel", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var body struct {
		Canceled bool `json:"canceled"`
	}
	decodeJSONBody(t, resp, &body)
	if body.Canceled {
		t.Fatal("expected canceled=false for unknown request")
	}
}

func TestListModelsPassesThroughBackend(t *testing.T) {
	resp := serve(newTestRouter(t), http.MethodGet, "/v1/models", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var body struct {
		Models []llm.Model `json:"models"`
	}
	decodeJSONBody(t, resp, &body)
	if len(body.Models) != 1 || body.Models[0].ID != "llama3.1" {
		t.Fatalf("unexpected models: %+v", body.Models)
	}
}
