package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ErrMalformedToolArguments is returned when the model emits tool arguments that are not valid JSON.
var ErrMalformedToolArguments = errors.New("malformed tool arguments")

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ReasoningEffort controls the amount of reasoning for supported models.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// Config holds LLM client configuration.
type Config struct {
	Provider        string          // "openai" or "anthropic"
	APIKey          string          // Required: API key for the provider
	BaseURL         string          // Optional: custom API endpoint
	Model           string          // Model name (e.g., "gpt-4.1", "claude-sonnet-4-5")
	MaxTokens       int             // Default completion budget when a request sets none
	MaxRetries      int             // SDK-level retries for transient failures
	ReasoningEffort ReasoningEffort // Optional: for models that support reasoning
}

const defaultMaxRetries = 5

// retries maps MaxRetries to an SDK retry count: zero means the default, negative disables retries.
func (c Config) retries() int {
	switch {
	case c.MaxRetries == 0:
		return defaultMaxRetries
	case c.MaxRetries < 0:
		return 0
	default:
		return c.MaxRetries
	}
}

// AgentClient supports tool-calling conversations for agent loops.
type AgentClient interface {
	ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Model() string
}

// ToolChoiceMode selects how the model may use the offered tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceForced   ToolChoiceMode = "forced"
)

// ToolChoice is the zero value for "auto". Forced requires Name.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ForceTool forces the model to call the named tool.
func ForceTool(name string) ToolChoice {
	return ToolChoice{Mode: ToolChoiceForced, Name: name}
}

// RequireTool makes the model call one of the offered tools.
func RequireTool() ToolChoice {
	return ToolChoice{Mode: ToolChoiceRequired}
}

// AgentRequest contains the messages and tools for an agent turn.
type AgentRequest struct {
	Messages    []Message
	Tools       []Tool
	ToolChoice  ToolChoice
	MaxTokens   int
	Temperature *float64

	// OnDelta receives partial text as it streams. When nil the request is not streamed.
	OnDelta func(delta string)
}

// PartType identifies a content part of a multi-part message.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multi-part user message.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"` // http(s) URL or data URL
}

// Message represents a conversation message.
type Message struct {
	Role       string        // "system", "user", "assistant", "tool"
	Name       string        // Optional: participant name (user messages only)
	Content    string        // Text content
	Parts      []ContentPart // Optional: multi-part content for user messages; supersedes Content
	ToolCalls  []ToolCall    // For assistant messages that request tool calls
	ToolCallID string        // For tool result messages (references the tool call)
}

// Text returns the message text, joining text parts for multi-part messages.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Tool defines a function the LLM can call.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

// AgentResponse contains the LLM's response.
type AgentResponse struct {
	Content          string     // Text response
	ToolCalls        []ToolCall // Tool calls to execute
	FinishReason     string     // "stop", "tool_calls", "length"
	PromptTokens     int
	CompletionTokens int
}

// NewAgentClient creates an AgentClient for tool-calling conversations.
// It selects the appropriate provider based on cfg.Provider ("openai" or "anthropic").
// Defaults to Anthropic if no provider is specified.
func NewAgentClient(cfg Config) (AgentClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderAnthropic
	}

	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// validateToolCalls normalizes empty arguments to "{}" and rejects invalid JSON.
func validateToolCalls(calls []ToolCall) error {
	for i := range calls {
		if strings.TrimSpace(calls[i].Arguments) == "" {
			calls[i].Arguments = "{}"
			continue
		}
		if !json.Valid([]byte(calls[i].Arguments)) {
			return fmt.Errorf("%w: tool %q", ErrMalformedToolArguments, calls[i].Name)
		}
	}
	return nil
}

// ParseToolArguments unmarshals tool arguments into the target struct.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("parse tool arguments: %w", err)
	}
	return result, nil
}

// GenerateSchemaFrom generates a JSON schema from an instance value.
// Useful when the type is not known at compile time.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// GenerateSchema generates a JSON schema for T.
func GenerateSchema[T any]() any {
	var v T
	return GenerateSchemaFrom(v)
}

// ObjectSchema wraps a properties map into an object schema. Used for
// schemas loaded from configuration rather than reflected from Go types.
func ObjectSchema(properties map[string]any) map[string]any {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// SanitizeName converts a participant name to a valid OpenAI name parameter.
// The name must match ^[a-zA-Z0-9_-]{1,64}$.
func SanitizeName(username string) string {
	sanitized := nameInvalidChars.ReplaceAllString(username, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}

// Temp returns a pointer to t for AgentRequest.Temperature.
func Temp(t float64) *float64 {
	return &t
}
