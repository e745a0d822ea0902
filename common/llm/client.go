package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Client produces structured results for one-shot background tasks
// (summaries, rankings, yes/no judgements).
type Client interface {
	Chat(ctx context.Context, req Request, result any) (*Response, error)
	Model() string
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

type Response struct {
	PromptTokens     int
	CompletionTokens int
}

type client struct {
	agent AgentClient
}

// NewClient returns a structured Client that forces a single tool whose
// parameters are the request schema. This works with every provider that
// supports tool forcing, unlike provider-specific JSON modes.
func NewClient(agent AgentClient) Client {
	return &client{agent: agent}
}

func (c *client) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	name := req.SchemaName
	if name == "" {
		name = "respond"
	}

	var messages []Message
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: req.UserPrompt})

	start := time.Now()
	resp, err := c.agent.ChatWithTools(ctx, AgentRequest{
		Messages: messages,
		Tools: []Tool{{
			Name:        name,
			Description: "Respond with the requested structured result.",
			Parameters:  req.Schema,
		}},
		ToolChoice:  ForceTool(name),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("structured chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.agent.Model(),
		"schema", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens)

	if len(resp.ToolCalls) == 0 {
		return nil, fmt.Errorf("structured chat: model did not call %s", name)
	}

	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &Response{
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}

func (c *client) Model() string {
	return c.agent.Model()
}

// IsRetryable reports whether err is a transient provider failure worth retrying.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	if errors.Is(err, ErrMalformedToolArguments) {
		return false
	}

	status := 0
	var openaiErr *openai.Error
	var anthropicErr *anthropic.Error
	switch {
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	default:
		// Network errors (no API response) are generally retryable
		slog.WarnContext(ctx, "llm network error, will retry", "error", err)
		return true
	}

	switch {
	case status == 429:
		slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", status)
		return true
	case status >= 500:
		slog.WarnContext(ctx, "llm server error, will retry", "status_code", status)
		return true
	default:
		slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", status)
		return false
	}
}

// Retry runs fn up to attempts times with exponential backoff (1s, 2s, 4s, ...)
// while failures are retryable. The backoff wait honors ctx.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(ctx, err) || attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
	return err
}
