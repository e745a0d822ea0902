package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/common/logger"
	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/model"
)

const maxResultLen = 300

// Terminal shows a conversation on a text console and asks the user to
// approve tool calls. Input is read line by line by one goroutine that ends
// at EOF.
type Terminal struct {
	out io.Writer

	mu        sync.Mutex
	streaming bool // deltas were printed since the last full message

	lines     chan string
	startOnce sync.Once
	in        io.Reader
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, lines: make(chan string)}
}

func (t *Terminal) start() {
	t.startOnce.Do(func() {
		go func() {
			defer close(t.lines)
			scanner := bufio.NewScanner(t.in)
			for scanner.Scan() {
				t.lines <- scanner.Text()
			}
		}()
	})
}

// ReadLine returns the next input line. ok is false at EOF.
func (t *Terminal) ReadLine(ctx context.Context) (line string, ok bool, err error) {
	t.start()
	select {
	case line, ok = <-t.lines:
		return strings.TrimSpace(line), ok, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Prompt writes text without a trailing newline.
func (t *Terminal) Prompt(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endStream()
	fmt.Fprint(t.out, text)
}

// Approve asks on the console. Anything but y or yes rejects; so does EOF.
func (t *Terminal) Approve(ctx context.Context, req brain.ApprovalRequest) (bool, error) {
	t.Prompt(fmt.Sprintf("Run %s? [y/N] ", req.ToolName))
	answer, ok, err := t.ReadLine(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (t *Terminal) Publish(_ context.Context, _ int64, msg model.FrontendMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg.Kind {
	case model.FrontendDelta:
		t.streaming = true
		fmt.Fprint(t.out, msg.Content)
		return nil
	case model.FrontendText:
		if msg.Role == llm.RoleUser {
			return nil
		}
		if t.streaming {
			t.endStream()
			return nil
		}
		fmt.Fprintln(t.out, msg.Content)
	case model.FrontendToolCall:
		t.endStream()
		fmt.Fprintf(t.out, "> %s\n", msg.ToolName)
		if msg.Preview != "" {
			fmt.Fprintln(t.out, indent(msg.Preview))
		}
	case model.FrontendApproval:
		t.endStream()
		fmt.Fprintf(t.out, "> %s needs approval\n", msg.ToolName)
		if msg.Preview != "" {
			fmt.Fprintln(t.out, indent(msg.Preview))
		}
	case model.FrontendToolResult:
		t.endStream()
		fmt.Fprintf(t.out, "  %s: %s\n", msg.ToolName, firstLine(logger.Truncate(msg.Content, maxResultLen)))
	case model.FrontendPlan:
		t.endStream()
		fmt.Fprintf(t.out, "Plan:\n%s\n", indent(msg.Content))
	case model.FrontendTaskContext:
		t.endStream()
		fmt.Fprintln(t.out, "Project research finished.")
	case model.FrontendError:
		t.endStream()
		fmt.Fprintf(t.out, "! %s\n", msg.Content)
	}
	return nil
}

// endStream terminates a line of streamed deltas. Callers hold mu.
func (t *Terminal) endStream() {
	if t.streaming {
		fmt.Fprintln(t.out)
		t.streaming = false
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

var (
	_ brain.Publisher = (*Terminal)(nil)
	_ brain.Approver  = (*Terminal)(nil)
)
