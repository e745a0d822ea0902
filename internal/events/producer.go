package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/companion/internal/model"
)

const (
	defaultStreamPrefix = "companion:conversation"
	defaultMaxLen       = 5000

	fieldMessage = "message"
)

// StreamName is the Redis stream that carries one conversation's display messages.
func StreamName(prefix string, conversationID int64) string {
	if prefix == "" {
		prefix = defaultStreamPrefix
	}
	return fmt.Sprintf("%s:%d:frontend", prefix, conversationID)
}

// Producer appends display messages to per-conversation Redis streams.
type Producer struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewProducer(client *redis.Client, prefix string) *Producer {
	return &Producer{client: client, prefix: prefix, maxLen: defaultMaxLen}
}

// Publish appends msg to the conversation's stream, trimming old entries.
func (p *Producer) Publish(ctx context.Context, conversationID int64, msg model.FrontendMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frontend message: %w", err)
	}

	stream := StreamName(p.prefix, conversationID)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldMessage: payload,
			"kind":       string(msg.Kind),
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd (stream=%s): %w", stream, err)
	}

	if msg.Kind != model.FrontendDelta {
		slog.DebugContext(ctx, "published frontend message",
			"stream", stream,
			"message_id", msg.ID,
			"kind", msg.Kind)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.client.Close()
}
