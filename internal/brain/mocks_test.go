package brain_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/model"
)

// mockLLMClient implements llm.Client for testing.
type mockLLMClient struct {
	mu        sync.Mutex
	chatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	callCount int
	requests  []llm.Request
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, req)
	fn := m.chatFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, result)
	}
	return nil, errors.New("mock not configured")
}

func (m *mockLLMClient) Model() string {
	return "small-model"
}

func (m *mockLLMClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockLLMClient) callsFor(schema string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.SchemaName == schema {
			n++
		}
	}
	return n
}

// respond fills result from a JSON document.
func respond(result any, doc string) (*llm.Response, error) {
	if err := json.Unmarshal([]byte(doc), result); err != nil {
		return nil, err
	}
	return &llm.Response{PromptTokens: 10, CompletionTokens: 5}, nil
}

// mockAgentClient implements llm.AgentClient for testing.
type mockAgentClient struct {
	mu              sync.Mutex
	model           string
	chatWithToolsFn func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error)
	callCount       int
	requests        []llm.AgentRequest
}

func (m *mockAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, req)
	fn := m.chatWithToolsFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return nil, errors.New("mock not configured")
}

func (m *mockAgentClient) Model() string {
	if m.model == "" {
		return "agent-model"
	}
	return m.model
}

func (m *mockAgentClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockAgentClient) lastRequest() llm.AgentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// mockCounter counts one token per byte unless countFn is set.
type mockCounter struct {
	countFn func(v any) int
}

func (m *mockCounter) Count(v any) int {
	if m.countFn != nil {
		return m.countFn(v)
	}
	if s, ok := v.(string); ok {
		return len(s)
	}
	return 0
}

// mockResearcher implements brain.Researcher for testing.
type mockResearcher struct {
	mu         sync.Mutex
	researchFn func(ctx context.Context, item brain.ResearchItem, in brain.ResearchInput) (json.RawMessage, error)
	items      []string
}

func (m *mockResearcher) Research(ctx context.Context, item brain.ResearchItem, in brain.ResearchInput) (json.RawMessage, error) {
	m.mu.Lock()
	m.items = append(m.items, item.Name)
	fn := m.researchFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, item, in)
	}
	return nil, nil
}

func (m *mockResearcher) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items...)
}

// mockPublisher records published messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []model.FrontendMessage
}

func (m *mockPublisher) Publish(_ context.Context, _ int64, msg model.FrontendMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) kinds() []model.FrontendKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.FrontendKind, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Kind
	}
	return out
}

// mockApprover implements brain.Approver for testing.
type mockApprover struct {
	approveFn func(ctx context.Context, req brain.ApprovalRequest) (bool, error)
	requests  []brain.ApprovalRequest
}

func (m *mockApprover) Approve(ctx context.Context, req brain.ApprovalRequest) (bool, error) {
	m.requests = append(m.requests, req)
	if m.approveFn != nil {
		return m.approveFn(ctx, req)
	}
	return true, nil
}

// mockBuilder implements brain.MessageBuilder for testing.
type mockBuilder struct {
	userTexts []string
}

func (m *mockBuilder) BuildMessages(_ context.Context, _ *model.Conversation, userText string) []llm.Message {
	m.userTexts = append(m.userTexts, userText)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleUser, Content: userText},
	}
}

// writeFile creates path under dir with content and an mtime in the past, so
// it does not count as modified during the test.
func writeFile(dir, path, content string) string {
	full := filepath.Join(dir, path)
	Expect(os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
	Expect(os.WriteFile(full, []byte(content), 0o644)).To(Succeed())
	past := time.Now().Add(-time.Hour)
	Expect(os.Chtimes(full, past, past)).To(Succeed())
	return full
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func backendContents(conv *model.Conversation) []string {
	var out []string
	for _, m := range conv.Backend() {
		out = append(out, m.Text())
	}
	return out
}

func frontendContents(conv *model.Conversation) []string {
	var out []string
	for _, m := range conv.Frontend() {
		out = append(out, m.Content)
	}
	return out
}
