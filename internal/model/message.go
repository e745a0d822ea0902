package model

import (
	"time"

	"basegraph.app/companion/common/llm"
)

// Message is an entry in the model-facing (backend) stream.
type Message struct {
	ID         int64             `json:"id"`
	Role       string            `json:"role"`
	Content    string            `json:"content,omitempty"`
	Parts      []llm.ContentPart `json:"parts,omitempty"`
	ToolCalls  []llm.ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// LLM converts the message to the gateway representation.
func (m Message) LLM() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Parts:      m.Parts,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

// Text returns the text content, joining text parts of multi-part messages.
func (m Message) Text() string {
	return m.LLM().Text()
}

// Images returns the image parts in order.
func (m Message) Images() []llm.ContentPart {
	var images []llm.ContentPart
	for _, p := range m.Parts {
		if p.Type == llm.PartImage {
			images = append(images, p)
		}
	}
	return images
}

type FrontendKind string

const (
	FrontendText        FrontendKind = "text"
	FrontendError       FrontendKind = "error"
	FrontendToolCall    FrontendKind = "tool_call"
	FrontendToolResult  FrontendKind = "tool_result"
	FrontendApproval    FrontendKind = "approval"
	FrontendPlan        FrontendKind = "plan"
	FrontendTaskContext FrontendKind = "task_context"
	FrontendDelta       FrontendKind = "delta" // streamed partial text, never stored
)

// FrontendMessage is an entry in the display stream. It shares its id with the
// backend message it mirrors, if any.
type FrontendMessage struct {
	ID         int64        `json:"id"`
	Role       string       `json:"role"`
	Kind       FrontendKind `json:"kind"`
	Content    string       `json:"content"`
	Preview    string       `json:"preview,omitempty"` // diff or command shown before approval
	ToolName   string       `json:"tool_name,omitempty"`
	ApprovalID string       `json:"approval_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Usage is the token spend of one model.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	Calls            int `json:"calls"`
}
