package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/companion/internal/model"
)

// StartFromBeginning reads a stream from its first entry.
const StartFromBeginning = "0"

// Event is one display message with its stream entry id, usable as a resume point.
type Event struct {
	StreamID string
	Message  model.FrontendMessage
}

// Reader tails per-conversation streams for server-sent events.
type Reader struct {
	client *redis.Client
	prefix string
	block  time.Duration
	count  int64
}

func NewReader(client *redis.Client, prefix string, block time.Duration) *Reader {
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Reader{client: client, prefix: prefix, block: block, count: 100}
}

// Read returns entries after lastID, blocking up to the configured duration.
// An empty result means the wait timed out.
func (r *Reader) Read(ctx context.Context, conversationID int64, lastID string) ([]Event, error) {
	if lastID == "" {
		lastID = StartFromBeginning
	}
	stream := StreamName(r.prefix, conversationID)

	streams, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   r.count,
		Block:   r.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xread (stream=%s): %w", stream, err)
	}

	var events []Event
	// One stream requested, so the outer loop runs once.
	for _, s := range streams {
		for _, entry := range s.Messages {
			msg, err := ParseEntry(entry)
			if err != nil {
				slog.WarnContext(ctx, "skipping unreadable stream entry",
					"stream", stream,
					"entry_id", entry.ID,
					"error", err)
				continue
			}
			events = append(events, Event{StreamID: entry.ID, Message: msg})
		}
	}
	return events, nil
}

// ParseEntry decodes the display message stored in a stream entry.
func ParseEntry(entry redis.XMessage) (model.FrontendMessage, error) {
	raw, ok := entry.Values[fieldMessage]
	if !ok {
		return model.FrontendMessage{}, fmt.Errorf("missing %s field", fieldMessage)
	}
	s, ok := raw.(string)
	if !ok {
		return model.FrontendMessage{}, fmt.Errorf("%s field has type %T", fieldMessage, raw)
	}
	var msg model.FrontendMessage
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		return model.FrontendMessage{}, fmt.Errorf("decode %s field: %w", fieldMessage, err)
	}
	return msg, nil
}
