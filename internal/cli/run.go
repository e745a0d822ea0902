package cli

import (
	"context"
	"fmt"
	"strings"

	"basegraph.app/companion/internal/session"
)

// Run starts task and then reads follow-up messages until EOF, "exit" or ctx
// ends. "/retry" repeats the last failed turn. Ending ctx cancels the active run.
func Run(ctx context.Context, sessions session.Manager, term *Terminal, task string) error {
	conv, err := sessions.Start(ctx, task, nil)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	if !wait(ctx, sessions, conv.ID) {
		return nil
	}

	for {
		term.Prompt("\n> ")
		line, ok, err := term.ReadLine(ctx)
		if err != nil || !ok {
			return nil
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/retry":
			err = sessions.Retry(ctx, conv.ID)
		default:
			err = sessions.Send(ctx, conv.ID, line, nil)
		}
		if err != nil {
			term.Prompt(fmt.Sprintf("! %v\n", err))
			continue
		}
		if !wait(ctx, sessions, conv.ID) {
			return nil
		}
	}
}

// wait blocks until the conversation is idle. It reports false when ctx ended
// first, after cancelling the run.
func wait(ctx context.Context, sessions session.Manager, conversationID int64) bool {
	done := make(chan struct{})
	go func() {
		sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		_ = sessions.Cancel(conversationID)
		<-done
		return false
	}
}
