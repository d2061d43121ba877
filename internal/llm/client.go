package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	maxErrorBodyBytes = 8 * 1024

	StyleNative = "native"
	StyleOpenAI = "openai"
)

var (
	// ErrMalformedChunk marks a stream line that is not valid JSON.
	ErrMalformedChunk = errors.New("malformed stream chunk")
	ErrMissingModel   = errors.New("model is required")
	ErrNoMessages     = errors.New("messages are required")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StreamRequest struct {
	Model    string
	Messages []Message
}

// APIError is a non-2xx answer from the generation backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation backend returned %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL  string
	APIStyle string
	APIKey   string
}

// Client talks to either a native NDJSON chat endpoint or an
// OpenAI-compatible SSE endpoint. Callers never see which.
type Client struct {
	baseURL    string
	style      string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	style := strings.ToLower(strings.TrimSpace(cfg.APIStyle))
	if style != StyleOpenAI {
		style = StyleNative
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		style:      style,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}
}

func (c *Client) Style() string { return c.style }

type nativeChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type nativeChatChunk struct {
	Message struct {
		Content   string `json:"content"`
		Thinking  string `json:"thinking"`
		Reasoning string `json:"reasoning"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

type openAIStreamRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StreamChatCompletion opens a streaming chat call. onStart runs once the
// backend has accepted the request; every callback may abort the stream by
// returning an error, which is passed through unchanged.
func (c *Client) StreamChatCompletion(
	ctx context.Context,
	req StreamRequest,
	onStart func() error,
	onDelta func(string) error,
	onReasoning func(string) error,
	onUsage func(Usage) error,
) error {
	if strings.TrimSpace(req.Model) == "" {
		return ErrMissingModel
	}
	if len(req.Messages) == 0 {
		return ErrNoMessages
	}

	var (
		path    string
		payload any
		accept  string
	)
	if c.style == StyleOpenAI {
		path = "/chat/completions"
		accept = "text/event-stream"
		payload = openAIStreamRequest{
			Model:         strings.TrimSpace(req.Model),
			Messages:      req.Messages,
			Stream:        true,
			StreamOptions: &streamOptions{IncludeUsage: true},
		}
	} else {
		path = "/api/chat"
		accept = "application/x-ndjson"
		payload = nativeChatRequest{Model: strings.TrimSpace(req.Model), Messages: req.Messages, Stream: true}
	}

	resp, err := c.post(ctx, path, payload, accept)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if onStart != nil {
		if err := onStart(); err != nil {
			return err
		}
	}

	cb := callbacks{onDelta: onDelta, onReasoning: onReasoning, onUsage: onUsage}
	if c.style == StyleOpenAI {
		return readSSE(resp.Body, cb)
	}
	return readNDJSON(resp.Body, cb)
}

type callbacks struct {
	onDelta     func(string) error
	onReasoning func(string) error
	onUsage     func(Usage) error
}

func (cb callbacks) delta(text string) error {
	if text == "" || cb.onDelta == nil {
		return nil
	}
	return cb.onDelta(text)
}

func (cb callbacks) reasoning(text string) error {
	if text == "" || cb.onReasoning == nil {
		return nil
	}
	return cb.onReasoning(text)
}

func (cb callbacks) usage(u Usage) error {
	if cb.onUsage == nil {
		return nil
	}
	return cb.onUsage(u)
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func readNDJSON(body io.Reader, cb callbacks) error {
	scanner := newScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk nativeChatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		if msg := strings.TrimSpace(chunk.Error); msg != "" {
			return errors.New(msg)
		}

		thinking := chunk.Message.Thinking
		if thinking == "" {
			thinking = chunk.Message.Reasoning
		}
		if err := cb.reasoning(thinking); err != nil {
			return err
		}
		if err := cb.delta(chunk.Message.Content); err != nil {
			return err
		}

		if chunk.Done {
			return cb.usage(Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}

func readSSE(body io.Reader, cb callbacks) error {
	scanner := newScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		if chunk.Error != nil && strings.TrimSpace(chunk.Error.Message) != "" {
			return errors.New(strings.TrimSpace(chunk.Error.Message))
		}
		if chunk.Usage != nil {
			if err := cb.usage(Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}); err != nil {
				return err
			}
		}

		for _, choice := range chunk.Choices {
			reasoning := choice.Delta.ReasoningContent
			if reasoning == "" {
				reasoning = choice.Delta.Reasoning
			}
			if err := cb.reasoning(reasoning); err != nil {
				return err
			}
			if err := cb.delta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}

// Complete runs a single non-streaming chat call and returns the answer text.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", ErrMissingModel
	}
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	if c.style == StyleOpenAI {
		return c.completeOpenAI(ctx, model, messages)
	}

	resp, err := c.post(ctx, "/api/chat", nativeChatRequest{Model: strings.TrimSpace(model), Messages: messages}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed nativeChatChunk
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	if msg := strings.TrimSpace(parsed.Error); msg != "" {
		return "", errors.New(msg)
	}
	return strings.TrimSpace(parsed.Message.Content), nil
}

func (c *Client) completeOpenAI(ctx context.Context, model string, messages []Message) (string, error) {
	client := openai.NewClient(c.openAIOptions()...)

	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			params = append(params, openai.SystemMessage(msg.Content))
		case "assistant":
			params = append(params, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(strings.TrimSpace(model)),
		Messages: params,
	})
	if err != nil {
		return "", translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) openAIOptions() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithBaseURL(c.baseURL + "/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	// local OpenAI-compatible servers usually run without a key
	key := c.apiKey
	if key == "" {
		key = "unused"
	}
	return append(opts, option.WithAPIKey(key))
}

func translateOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.StatusCode, Body: strings.TrimSpace(apiErr.Message)}
	}
	return fmt.Errorf("request completion: %w", err)
}

type nativeTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListModels returns the models the backend advertises.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if c.style == StyleOpenAI {
		client := openai.NewClient(c.openAIOptions()...)
		page, err := client.Models.List(ctx)
		if err != nil {
			return nil, translateOpenAIError(err)
		}
		models := make([]Model, 0, len(page.Data))
		for _, m := range page.Data {
			if id := strings.TrimSpace(m.ID); id != "" {
				models = append(models, Model{ID: id, Name: id})
			}
		}
		return models, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed nativeTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	models := make([]Model, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		id := strings.TrimSpace(m.Model)
		if id == "" {
			id = strings.TrimSpace(m.Name)
		}
		if id == "" {
			continue
		}
		name := strings.TrimSpace(m.Name)
		if name == "" {
			name = id
		}
		models = append(models, Model{ID: id, Name: name})
	}
	return models, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	return c.do(httpReq)
}

func (c *Client) do(httpReq *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request generation backend: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
