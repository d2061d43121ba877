package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// Responder turns a single prompt into a structured side call. It is what the
// research loop uses for query suggestions, drafts and reviews.
type Responder struct {
	completer Completer
	model     string
	system    string
	timeout   time.Duration
}

func NewResponder(completer Completer, model, system string, timeout time.Duration) *Responder {
	if completer == nil || strings.TrimSpace(model) == "" {
		return nil
	}
	return &Responder{
		completer: completer,
		model:     strings.TrimSpace(model),
		system:    strings.TrimSpace(system),
		timeout:   timeout,
	}
}

func (r *Responder) Respond(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is empty")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	messages := make([]Message, 0, 2)
	if r.system != "" {
		messages = append(messages, Message{Role: "system", Content: r.system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	out, err := r.completer.Complete(ctx, r.model, messages)
	if err != nil {
		return "", err
	}
	if out = strings.TrimSpace(out); out == "" {
		return "", errors.New("side call returned an empty answer")
	}
	return out, nil
}
