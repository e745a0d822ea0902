package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"basegraph.app/companion/internal/brain"
)

type pendingApproval struct {
	conversationID int64
	toolName       string
	decision       chan bool
}

// Approvals parks tool calls until the user decides on them. It implements
// brain.Approver for the agents of every conversation.
type Approvals struct {
	mu      sync.Mutex
	pending map[string]pendingApproval
}

func NewApprovals() *Approvals {
	return &Approvals{pending: make(map[string]pendingApproval)}
}

// Approve blocks until Decide is called for req.ID or ctx ends.
func (a *Approvals) Approve(ctx context.Context, req brain.ApprovalRequest) (bool, error) {
	decision := make(chan bool, 1)

	a.mu.Lock()
	a.pending[req.ID] = pendingApproval{
		conversationID: req.ConversationID,
		toolName:       req.ToolName,
		decision:       decision,
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, req.ID)
		a.mu.Unlock()
	}()

	slog.DebugContext(ctx, "waiting for approval", "tool", req.ToolName)
	select {
	case approved := <-decision:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Decide resolves a pending approval of the given conversation.
func (a *Approvals) Decide(conversationID int64, approvalID string, approved bool) error {
	a.mu.Lock()
	p, ok := a.pending[approvalID]
	if !ok || p.conversationID != conversationID {
		a.mu.Unlock()
		return ErrNoPendingApproval
	}
	delete(a.pending, approvalID)
	a.mu.Unlock()

	p.decision <- approved
	return nil
}

// Pending returns the ids of the conversation's open approvals.
func (a *Approvals) Pending(conversationID int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, p := range a.pending {
		if p.conversationID == conversationID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

var _ brain.Approver = (*Approvals)(nil)
