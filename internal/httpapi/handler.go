package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"webchat/backend/internal/assistant"
	"webchat/backend/internal/config"
	"webchat/backend/internal/conversation"
	"webchat/backend/internal/llm"
	"webchat/backend/internal/logger"
	"webchat/backend/internal/research"
	"webchat/backend/internal/session"
	"webchat/backend/internal/settings"
	"webchat/backend/internal/stream"
)

const maxPromptRunes = 8000

// Assistant is what the HTTP surface needs from the service layer.
type Assistant interface {
	CreateSession(ctx context.Context, title string) (session.Session, error)
	History(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	Settings(ctx context.Context) (settings.Settings, error)
	ListModels(ctx context.Context) ([]llm.Model, error)
	PlanAndSearch(ctx context.Context, history []conversation.Turn, prompt, goal string, st settings.Settings) (assistant.PlanResult, error)
	Turn(ctx context.Context, sessionID, prompt string, opts assistant.TurnOptions, obs assistant.Observer) (assistant.TurnResult, error)
	RunDeepResearch(ctx context.Context, req assistant.ResearchRequest, onProgress func(research.Progress)) (research.Report, error)
	Cancel(requestID string) bool
}

type Handler struct {
	cfg       config.Config
	assistant Assistant
	log       *logger.Logger
}

func NewHandler(cfg config.Config, a Assistant, log *logger.Logger) Handler {
	return Handler{cfg: cfg, assistant: a, log: logger.OrNop(log).WithComponent("httpapi")}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.assistant.ListModels(r.Context())
	if err != nil {
		h.log.LogError(r.Context(), "list models failed", err)
		writeError(w, http.StatusBadGateway, "backend_unavailable", "failed to list models")
		return
	}
	if models == nil {
		models = []llm.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	created, err := h.assistant.CreateSession(r.Context(), req.Title)
	if err != nil {
		h.log.LogError(r.Context(), "create session failed", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": created})
}

func (h Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	turns, err := h.assistant.History(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		h.log.LogError(r.Context(), "read turns failed", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read turns")
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

type sessionMessageRequest struct {
	Message      string `json:"message"`
	Model        string `json:"model"`
	RequestID    string `json:"requestId"`
	DeepResearch *bool  `json:"deepResearch"`
	AutoSearch   *bool  `json:"autoSearch"`
}

// SessionMessages answers one prompt as a server-sent event stream.
func (h Handler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sessionMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	prompt := strings.TrimSpace(req.Message)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if len([]rune(prompt)) > maxPromptRunes {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is too long")
		return
	}
	if _, err := h.assistant.History(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read session")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	requestID := fallback(req.RequestID, uuid.NewString())
	deepResearch := req.DeepResearch != nil && *req.DeepResearch
	_ = sse.send("meta", map[string]any{
		"requestId":    requestID,
		"sessionId":    sessionID,
		"model":        strings.TrimSpace(req.Model),
		"deepResearch": deepResearch,
	})

	result, err := h.assistant.Turn(r.Context(), sessionID, prompt, assistant.TurnOptions{
		RequestID:    requestID,
		Model:        req.Model,
		DeepResearch: deepResearch,
		AutoSearch:   req.AutoSearch,
	}, assistant.Observer{
		OnResearch: func(progress research.Progress) {
			_ = sse.send("research", progressEventData(progress))
		},
		OnReport: func(report research.Report) {
			_ = sse.send("research", map[string]any{"stage": research.StageComplete, "report": report})
		},
		OnPlan: func(plan assistant.PlanResult) {
			_ = sse.send("plan", map[string]any{
				"shouldSearch": plan.Plan.ShouldSearch,
				"reason":       plan.Plan.Reason,
				"queries":      plan.Plan.Queries,
				"message":      plan.Message,
				"offline":      plan.Offline,
			})
			if !plan.Outcome.Empty() {
				_ = sse.send("search", map[string]any{"queries": plan.Outcome.Queries, "entries": plan.Outcome.Entries})
			}
		},
		OnEvent: func(event stream.Event) error {
			return sse.send(string(event.Type), streamEventData(event))
		},
	})

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		h.log.LogError(r.Context(), "turn failed", err, "session_id", sessionID, "request_id", requestID)
		_ = sse.send("error", map[string]any{"message": err.Error(), "requestId": requestID})
	case result.Result.Status == stream.StatusAborted || errors.Is(err, context.Canceled):
		_ = sse.send("aborted", map[string]any{"requestId": requestID, "answer": result.Result.Answer})
	default:
		_ = sse.send("done", map[string]any{
			"requestId":        requestID,
			"answer":           result.Result.Answer,
			"reasoning":        result.Result.Reasoning,
			"fallback":         result.Result.Fallback,
			"directiveQueries": result.Result.DirectiveQueries,
			"timing":           result.Result.Timing,
			"usage":            result.Result.Usage,
		})
	}
}

func streamEventData(event stream.Event) map[string]any {
	data := map[string]any{}
	switch event.Type {
	case stream.EventToken:
		data["delta"] = event.Delta
		data["full"] = event.Full
	case stream.EventReasoning:
		data["delta"] = event.Delta
		data["reasoning"] = event.Reasoning
	case stream.EventSearch:
		data["query"] = event.Query
		if event.Outcome != nil {
			data["entries"] = event.Outcome.Entries
		}
	case stream.EventStatus:
		data["message"] = event.Message
		data["query"] = event.Query
	}
	return data
}

type planRequest struct {
	Prompt    string              `json:"prompt"`
	SessionID string              `json:"sessionId"`
	Goal      string              `json:"goal"`
	History   []conversation.Turn `json:"history"`
}

// PlanSearch runs planAndSearch without generating an answer.
func (h Handler) PlanSearch(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	history := req.History
	if sessionID := strings.TrimSpace(req.SessionID); sessionID != "" {
		stored, err := h.assistant.History(r.Context(), sessionID)
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to read session")
			return
		}
		history = stored
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		goal = conversation.Goal(history)
	}

	st, err := h.assistant.Settings(r.Context())
	if err != nil {
		h.log.LogError(r.Context(), "load settings failed", err)
		writeError(w, http.StatusInternalServerError, "settings_error", "failed to load settings")
		return
	}

	result, err := h.assistant.PlanAndSearch(r.Context(), history, req.Prompt, goal, st)
	if err != nil {
		writeError(w, http.StatusRequestTimeout, "canceled", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type researchRequest struct {
	Topic       string   `json:"topic"`
	Model       string   `json:"model"`
	RequestID   string   `json:"requestId"`
	Iterations  int      `json:"iterations"`
	ResultLimit int      `json:"resultLimit"`
	SeedQueries []string `json:"seedQueries"`
}

// Research streams deep-research progress and ends with the report.
func (h Handler) Research(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", research.ErrMissingTopic.Error())
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	requestID := fallback(req.RequestID, uuid.NewString())
	_ = sse.send("meta", map[string]any{"requestId": requestID, "topic": strings.TrimSpace(req.Topic)})

	trace := newThinkingTraceCollector()
	report, err := h.assistant.RunDeepResearch(r.Context(), assistant.ResearchRequest{
		RequestID: requestID,
		Request: research.Request{
			Topic:       req.Topic,
			Model:       req.Model,
			Iterations:  req.Iterations,
			ResultLimit: req.ResultLimit,
			SeedQueries: req.SeedQueries,
		},
	}, func(progress research.Progress) {
		trace.AppendProgress(progress)
		_ = sse.send("progress", progressEventData(progress))
	})

	switch {
	case errors.Is(err, research.ErrOffline):
		trace.MarkStopped("Offline")
		_ = sse.send("error", map[string]any{"code": "offline", "message": err.Error(), "requestId": requestID})
	case errors.Is(err, context.Canceled):
		trace.MarkStopped("Stopped")
		_ = sse.send("aborted", map[string]any{"requestId": requestID, "report": report, "trace": trace.Snapshot()})
	case errors.Is(err, context.DeadlineExceeded):
		trace.MarkStopped("Timed out")
		_ = sse.send("done", map[string]any{"requestId": requestID, "report": report, "trace": trace.Snapshot(), "partial": true})
	case err != nil:
		h.log.LogError(r.Context(), "research failed", err, "request_id", requestID)
		trace.MarkStopped(err.Error())
		_ = sse.send("error", map[string]any{"message": err.Error(), "requestId": requestID})
	default:
		trace.MarkDone()
		_ = sse.send("done", map[string]any{"requestId": requestID, "report": report, "trace": trace.Snapshot()})
	}
}

func (h Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "request id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requestId": requestID, "canceled": h.assistant.Cancel(requestID)})
}

func fallback(value, other string) string {
	if strings.TrimSpace(value) == "" {
		return other
	}
	return strings.TrimSpace(value)
}
