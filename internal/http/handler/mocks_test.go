package handler_test

import (
	"context"
	"sync"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/events"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/session"
)

// mockManager implements session.Manager for testing.
type mockManager struct {
	startFn   func(ctx context.Context, description string, images []llm.ContentPart) (*model.Conversation, error)
	sendFn    func(ctx context.Context, id int64, text string, images []llm.ContentPart) error
	retryFn   func(ctx context.Context, id int64) error
	cancelFn  func(id int64) error
	decideFn  func(id int64, approvalID string, approved bool) error
	setFileFn func(id int64, path string, enabled bool) error
	deleteFn  func(id, messageID int64) error

	conversations map[int64]*model.Conversation
	status        session.Status
}

func (m *mockManager) Start(ctx context.Context, description string, images []llm.ContentPart) (*model.Conversation, error) {
	if m.startFn != nil {
		return m.startFn(ctx, description, images)
	}
	return nil, nil
}

func (m *mockManager) Send(ctx context.Context, id int64, text string, images []llm.ContentPart) error {
	if m.sendFn != nil {
		return m.sendFn(ctx, id, text, images)
	}
	return nil
}

func (m *mockManager) Retry(ctx context.Context, id int64) error {
	if m.retryFn != nil {
		return m.retryFn(ctx, id)
	}
	return nil
}

func (m *mockManager) Cancel(id int64) error {
	if m.cancelFn != nil {
		return m.cancelFn(id)
	}
	return nil
}

func (m *mockManager) Decide(id int64, approvalID string, approved bool) error {
	if m.decideFn != nil {
		return m.decideFn(id, approvalID, approved)
	}
	return nil
}

func (m *mockManager) Get(id int64) (*model.Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return conv, nil
}

func (m *mockManager) Status(id int64) (session.Status, error) {
	if _, ok := m.conversations[id]; !ok {
		return session.Status{}, session.ErrNotFound
	}
	return m.status, nil
}

func (m *mockManager) SetFile(id int64, path string, enabled bool) error {
	if m.setFileFn != nil {
		return m.setFileFn(id, path, enabled)
	}
	return nil
}

func (m *mockManager) DeleteMessagesAfter(id, messageID int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(id, messageID)
	}
	return nil
}

func (m *mockManager) Wait()  {}
func (m *mockManager) Close() {}

// mockReader implements handler.EventReader for testing.
type mockReader struct {
	mu        sync.Mutex
	readFn    func(ctx context.Context, id int64, lastID string) ([]events.Event, error)
	lastIDs   []string
	callCount int
}

func (m *mockReader) Read(ctx context.Context, id int64, lastID string) ([]events.Event, error) {
	m.mu.Lock()
	m.callCount++
	m.lastIDs = append(m.lastIDs, lastID)
	fn := m.readFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, lastID)
	}
	return nil, nil
}
