package brain

import (
	"context"
	"log/slog"
	"time"

	"basegraph.app/companion/internal/model"
)

// Publisher delivers display messages to whoever is watching a conversation.
type Publisher interface {
	Publish(ctx context.Context, conversationID int64, msg model.FrontendMessage) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, int64, model.FrontendMessage) error { return nil }

// emit stores msg on the display stream and publishes it with its assigned id.
// Deltas are published only.
func emit(ctx context.Context, pub Publisher, conv *model.Conversation, msg model.FrontendMessage) int64 {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Kind != model.FrontendDelta {
		msg.ID = conv.AddFrontend(msg)
	}
	publish(ctx, pub, conv, msg)
	return msg.ID
}

func publish(ctx context.Context, pub Publisher, conv *model.Conversation, msg model.FrontendMessage) {
	if err := pub.Publish(ctx, conv.ID, msg); err != nil {
		slog.WarnContext(ctx, "publish frontend message failed",
			"kind", msg.Kind,
			"error", err)
	}
}
