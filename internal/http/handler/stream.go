package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/companion/internal/events"
	"basegraph.app/companion/internal/session"
)

// EventReader reads a conversation's frontend stream after lastID.
type EventReader interface {
	Read(ctx context.Context, conversationID int64, lastID string) ([]events.Event, error)
}

type StreamHandler struct {
	sessions session.Manager
	reader   EventReader
	backoff  time.Duration
}

func NewStreamHandler(sessions session.Manager, reader EventReader) *StreamHandler {
	return &StreamHandler{sessions: sessions, reader: reader, backoff: time.Second}
}

// Stream replays the conversation's frontend messages and follows new ones
// as server-sent events. Clients resume with Last-Event-ID or ?last_id=.
func (h *StreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
		return
	}

	id, ok := conversationID(c)
	if !ok {
		return
	}
	if _, err := h.sessions.Get(id); err != nil {
		writeSessionError(c, err)
		return
	}

	lastID := c.GetHeader("Last-Event-ID")
	if lastID == "" {
		lastID = c.Query("last_id")
	}
	if lastID == "" {
		lastID = events.StartFromBeginning
	}

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "", "ping", "ready")
	flusher.Flush()

	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := h.reader.Read(ctx, id, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.WarnContext(ctx, "read frontend stream failed", "conversation_id", id, "error", err)
			sseWrite(c.Writer, "", "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.backoff):
			}
			continue
		}

		if len(batch) == 0 {
			sseWrite(c.Writer, "", "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
			continue
		}

		for _, ev := range batch {
			lastID = ev.StreamID
			sseWrite(c.Writer, ev.StreamID, string(ev.Message.Kind), ev.Message)
		}
		flusher.Flush()
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, id, event string, data any) {
	payload := marshalPayload(data)
	if id != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", id)
	}
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
