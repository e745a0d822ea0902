package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/model"
)

type historyPart struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
	File    string `json:"file,omitempty"`
}

type historyEntry struct {
	Role    string        `json:"role"`
	Content []historyPart `json:"content"`
}

// formatHistoryEntry serializes m for the conversation history. Tool calls are
// reduced to their names and target files and images are dropped. stripChanges removes diff
// blocks from tool results.
func formatHistoryEntry(m model.Message, stripChanges bool) string {
	content := m.Text()
	if stripChanges {
		content, _ = StripFileChanges(content)
	}

	entry := historyEntry{Role: m.Role, Content: []historyPart{}}
	if m.Role == llm.RoleTool {
		entry.Role = llm.RoleUser
	}
	if content != "" {
		partType := "text"
		if m.Role == llm.RoleTool {
			partType = "tool_result"
		}
		entry.Content = append(entry.Content, historyPart{Type: partType, Content: content})
	}
	for _, tc := range m.ToolCalls {
		part := historyPart{Type: "tool_use", Name: tc.Name}
		if args, err := llm.ParseToolArguments[targetFileArgs](tc.Arguments); err == nil {
			part.File = args.TargetFile
		}
		entry.Content = append(entry.Content, part)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entry); err != nil {
		return fmt.Sprintf(`{"role": %q}`, entry.Role)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// historySection renders the conversation history: the running summary, the
// not yet summarized older messages, then the recent messages verbatim. A
// message id appears in exactly one of the three. When the older delta grows
// past the token ceiling, a background compression is started.
func (b *ContextBuilder) historySection(conv *model.Conversation) string {
	msgs := conv.Backend()
	summary := conv.Summary()

	split := max(0, len(msgs)-b.cfg.RecentMessages)
	older, recent := msgs[:split], msgs[split:]

	var delta strings.Builder
	highWater := summary.HighWater
	for _, m := range older {
		if m.ID <= summary.HighWater {
			continue
		}
		delta.WriteString(formatHistoryEntry(m, true))
		delta.WriteString(",\n")
		highWater = m.ID
	}

	buffer := summary.Text + "\n\n" + delta.String()
	if delta.Len() > 0 && b.counter.Count(delta.String()) > b.cfg.MaxSummaryTokens {
		b.startCompression(conv, buffer, highWater)
	}

	var rendered []model.Message
	for _, m := range recent {
		if m.ID > summary.HighWater {
			rendered = append(rendered, m)
		}
	}
	if n := len(rendered); n > 0 && rendered[n-1].Role == llm.RoleUser {
		rendered = rendered[:n-1]
	}

	all := buffer
	for _, m := range rendered {
		all += formatHistoryEntry(m, false) + ",\n"
	}
	if strings.TrimSpace(all) == "" {
		return ""
	}
	return "\n<conversation_history>\n[" + all + "]\n</conversation_history>"
}

type compressionResult struct {
	Summary string `json:"summary" jsonschema_description:"The compressed conversation_history"`
}

var compressionSchema = llm.GenerateSchema[compressionResult]()

// startCompression compresses buffer in the background. The result covers
// every message up to highWater and is applied by the next BuildMessages.
// At most one compression runs per conversation.
func (b *ContextBuilder) startCompression(conv *model.Conversation, buffer string, highWater int64) {
	gen, ok := conv.BeginCompression()
	if !ok {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.background, b.cfg.CompressionTimeout)
		defer cancel()

		text, err := b.compress(ctx, conv, buffer)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.WarnContext(ctx, "history compression failed, keeping uncompressed history",
					"conversation_id", conv.ID, "error", err)
			}
			conv.FinishCompression(gen, nil)
			return
		}

		conv.FinishCompression(gen, &model.HistorySummary{Text: text, HighWater: highWater})
		slog.DebugContext(ctx, "history compressed",
			"conversation_id", conv.ID,
			"high_water", highWater,
			"input_tokens", b.counter.Count(buffer),
			"output_tokens", b.counter.Count(text))
	}()
}

var (
	leadingBracket  = regexp.MustCompile(`^\s*\[`)
	trailingBracket = regexp.MustCompile(`\]\s*$`)
)

func (b *ContextBuilder) compress(ctx context.Context, conv *model.Conversation, buffer string) (string, error) {
	var result compressionResult
	resp, err := b.llm.Chat(ctx, llm.Request{
		UserPrompt:  fmt.Sprintf(compressionPrompt, buffer),
		SchemaName:  "compressed_history",
		Schema:      compressionSchema,
		Temperature: llm.Temp(0),
	}, &result)
	if err != nil {
		return "", err
	}
	conv.AddUsage(b.llm.Model(), resp.PromptTokens, resp.CompletionTokens)

	summary := strings.TrimSpace(result.Summary)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	// The summary is spliced into an open JSON array.
	summary = leadingBracket.ReplaceAllString(summary, "")
	summary = trailingBracket.ReplaceAllString(summary, ",")
	return summary, nil
}
