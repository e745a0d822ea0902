package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"basegraph.app/companion/common/id"
	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/model"
)

var (
	ErrBusy              = errors.New("conversation is busy")
	ErrNotFound          = errors.New("conversation not found")
	ErrNoPendingApproval = errors.New("no pending approval with this id")
	ErrEmptyMessage      = errors.New("message is empty")
)

// Planner prepares a new conversation before the agent starts.
type Planner interface {
	Run(ctx context.Context, conv *model.Conversation) error
}

// Agent runs turns of one conversation.
type Agent interface {
	Send(ctx context.Context, conv *model.Conversation, text string, images ...llm.ContentPart) error
	Retry(ctx context.Context, conv *model.Conversation) error
}

// FileResolver maps user supplied paths to absolute project paths.
type FileResolver interface {
	Resolve(path string) (string, error)
	Exists(path string) bool
}

// Status describes what a conversation is doing.
type Status struct {
	Running          bool     `json:"running"`
	PendingApprovals []string `json:"pending_approvals"`
	LastError        string   `json:"last_error,omitempty"`
}

// Manager owns the conversations of one project. Each conversation runs at
// most one planner or agent pass at a time.
type Manager interface {
	Start(ctx context.Context, description string, images []llm.ContentPart) (*model.Conversation, error)
	Send(ctx context.Context, conversationID int64, text string, images []llm.ContentPart) error
	Retry(ctx context.Context, conversationID int64) error
	Cancel(conversationID int64) error
	Decide(conversationID int64, approvalID string, approved bool) error
	Get(conversationID int64) (*model.Conversation, error)
	Status(conversationID int64) (Status, error)
	SetFile(conversationID int64, path string, enabled bool) error
	DeleteMessagesAfter(conversationID, messageID int64) error
	Wait()
	Close()
}

type Config struct {
	Planner   Planner
	NewAgent  func(conv *model.Conversation) Agent
	Approvals *Approvals
	Publisher brain.Publisher
	Files     FileResolver
	NewID     func() int64
}

type conversation struct {
	conv    *model.Conversation
	agent   Agent
	planned bool
	cancel  context.CancelFunc // set while a run is active
	lastErr error
}

type manager struct {
	cfg Config

	mu            sync.Mutex
	conversations map[int64]*conversation

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewManager(cfg Config) Manager {
	if cfg.NewID == nil {
		cfg.NewID = id.New
	}
	if cfg.Approvals == nil {
		cfg.Approvals = NewApprovals()
	}
	base, stop := context.WithCancel(context.Background())
	return &manager{
		cfg:           cfg,
		conversations: make(map[int64]*conversation),
		base:          base,
		stop:          stop,
	}
}

// Start creates a conversation and runs planning and the first agent turn in
// the background.
func (m *manager) Start(ctx context.Context, description string, images []llm.ContentPart) (*model.Conversation, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrEmptyMessage
	}

	conv := model.NewConversation(m.cfg.NewID(), description, time.Now())
	c := &conversation{conv: conv, agent: m.cfg.NewAgent(conv)}

	m.mu.Lock()
	m.conversations[conv.ID] = c
	m.mu.Unlock()

	slog.InfoContext(ctx, "conversation started", "conversation_id", conv.ID)
	if err := m.launch(c, func(ctx context.Context) error {
		return m.firstTurn(ctx, c, images)
	}); err != nil {
		return nil, err
	}
	return conv, nil
}

func (m *manager) firstTurn(ctx context.Context, c *conversation, images []llm.ContentPart) error {
	if err := m.cfg.Planner.Run(ctx, c.conv); err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	m.mu.Lock()
	c.planned = true
	m.mu.Unlock()
	// The description already leads every prompt as the task.
	return c.agent.Send(ctx, c.conv, "", images...)
}

func (m *manager) Send(ctx context.Context, conversationID int64, text string, images []llm.ContentPart) error {
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return ErrEmptyMessage
	}
	c, err := m.lookup(conversationID)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "message received", "conversation_id", conversationID)
	return m.launch(c, func(ctx context.Context) error {
		return c.agent.Send(ctx, c.conv, text, images...)
	})
}

// Retry repeats a failed first turn from planning, or resumes the agent loop.
func (m *manager) Retry(ctx context.Context, conversationID int64) error {
	c, err := m.lookup(conversationID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	planned := c.planned
	m.mu.Unlock()

	slog.InfoContext(ctx, "retrying conversation", "conversation_id", conversationID, "planned", planned)
	if !planned {
		return m.launch(c, func(ctx context.Context) error {
			return m.firstTurn(ctx, c, nil)
		})
	}
	return m.launch(c, func(ctx context.Context) error {
		return c.agent.Retry(ctx, c.conv)
	})
}

// Cancel stops the active run, if any. The agent reports the abort to the user.
func (m *manager) Cancel(conversationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (m *manager) Decide(conversationID int64, approvalID string, approved bool) error {
	if _, err := m.lookup(conversationID); err != nil {
		return err
	}
	return m.cfg.Approvals.Decide(conversationID, approvalID, approved)
}

func (m *manager) Get(conversationID int64) (*model.Conversation, error) {
	c, err := m.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	return c.conv, nil
}

func (m *manager) Status(conversationID int64) (Status, error) {
	m.mu.Lock()
	c, ok := m.conversations[conversationID]
	if !ok {
		m.mu.Unlock()
		return Status{}, ErrNotFound
	}
	s := Status{Running: c.cancel != nil}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	m.mu.Unlock()

	s.PendingApprovals = m.cfg.Approvals.Pending(conversationID)
	return s, nil
}

// SetFile adds a project file to the conversation's relevant files or
// switches it on or off.
func (m *manager) SetFile(conversationID int64, path string, enabled bool) error {
	c, err := m.lookup(conversationID)
	if err != nil {
		return err
	}
	if m.cfg.Files == nil {
		c.conv.Files.Set(path, enabled)
		return nil
	}
	abs, err := m.cfg.Files.Resolve(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if !m.cfg.Files.Exists(abs) {
		return fmt.Errorf("file %s does not exist", path)
	}
	c.conv.Files.Set(abs, enabled)
	return nil
}

func (m *manager) DeleteMessagesAfter(conversationID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.cancel != nil {
		return ErrBusy
	}
	c.conv.DeleteMessagesAfter(messageID)
	return nil
}

// Wait blocks until every active run has finished.
func (m *manager) Wait() {
	m.wg.Wait()
}

// Close cancels every active run and waits for them.
func (m *manager) Close() {
	m.stop()
	m.wg.Wait()
}

func (m *manager) lookup(conversationID int64) (*conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// launch starts fn in the background unless the conversation already runs.
func (m *manager) launch(c *conversation, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if c.cancel != nil {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.base.Err() != nil {
		m.mu.Unlock()
		return fmt.Errorf("session manager closed: %w", m.base.Err())
	}
	ctx, cancel := context.WithCancel(m.base)
	c.cancel = cancel
	c.lastErr = nil
	m.wg.Add(1)
	m.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(c.conv.ID),
		Component:      "companion.session",
	})

	go func() {
		defer m.wg.Done()
		defer cancel()

		err := fn(ctx)
		if err != nil {
			m.report(ctx, c, err)
		}

		m.mu.Lock()
		c.cancel = nil
		c.lastErr = err
		m.mu.Unlock()
	}()
	return nil
}

// report surfaces errors the agent did not already show to the user.
func (m *manager) report(ctx context.Context, c *conversation, err error) {
	ctx = context.WithoutCancel(ctx)
	if errors.Is(err, context.Canceled) {
		slog.InfoContext(ctx, "conversation run cancelled")
		m.show(ctx, c, "Request was aborted")
		return
	}

	slog.ErrorContext(ctx, "conversation run failed", "error", err)
	m.mu.Lock()
	planned := c.planned
	m.mu.Unlock()
	if !planned {
		m.show(ctx, c, "Error occurred. "+err.Error())
	}
}

func (m *manager) show(ctx context.Context, c *conversation, text string) {
	msg := model.FrontendMessage{
		Role:      llm.RoleAssistant,
		Kind:      model.FrontendError,
		Content:   text,
		CreatedAt: time.Now(),
	}
	msg.ID = c.conv.AddFrontend(msg)
	if m.cfg.Publisher == nil {
		return
	}
	if err := m.cfg.Publisher.Publish(ctx, c.conv.ID, msg); err != nil {
		slog.WarnContext(ctx, "publish frontend message failed", "error", err)
	}
}
