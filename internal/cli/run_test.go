package cli_test

import (
	"bytes"
	"context"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/cli"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/session"
)

type stubPlanner struct{}

func (stubPlanner) Run(context.Context, *model.Conversation) error { return nil }

// echoAgent answers every message by publishing it back. The first turn
// carries no text and echoes the task.
type echoAgent struct {
	mu      sync.Mutex
	term    *cli.Terminal
	block   bool
	sent    []string
	retries int
}

func (a *echoAgent) Send(ctx context.Context, conv *model.Conversation, text string, _ ...llm.ContentPart) error {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	block := a.block
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if text == "" {
		text = conv.Description()
	}
	return a.term.Publish(ctx, conv.ID, model.FrontendMessage{Role: llm.RoleAssistant, Kind: model.FrontendText, Content: "echo " + text})
}

func (a *echoAgent) Retry(context.Context, *model.Conversation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retries++
	return nil
}

var _ = Describe("Run", func() {
	var (
		out   *bytes.Buffer
		agent *echoAgent
	)

	newSessions := func(term *cli.Terminal) session.Manager {
		agent.term = term
		return session.NewManager(session.Config{
			Planner:  stubPlanner{},
			NewAgent: func(*model.Conversation) session.Agent { return agent },
			NewID:    func() int64 { return 1 },
		})
	}

	BeforeEach(func() {
		out = &bytes.Buffer{}
		agent = &echoAgent{}
	})

	It("runs the task and then each follow-up until exit", func() {
		term := cli.NewTerminal(strings.NewReader("\nadd tests\n/retry\nexit\nignored\n"), out)
		sessions := newSessions(term)
		defer sessions.Close()

		Expect(cli.Run(context.Background(), sessions, term, "add a cart")).To(Succeed())

		Expect(agent.sent).To(Equal([]string{"", "add tests"}))
		Expect(agent.retries).To(Equal(1))
		Expect(out.String()).To(ContainSubstring("echo add a cart\n"))
		Expect(out.String()).To(ContainSubstring("echo add tests\n"))

		// drain the unread line so the input reader finishes
		_, _, _ = term.ReadLine(context.Background())
	})

	It("stops at end of input", func() {
		term := cli.NewTerminal(strings.NewReader(""), out)
		sessions := newSessions(term)
		defer sessions.Close()

		Expect(cli.Run(context.Background(), sessions, term, "add a cart")).To(Succeed())

		Expect(agent.sent).To(Equal([]string{""}))
	})

	It("cancels the active run when the context ends", func() {
		agent.block = true
		term := cli.NewTerminal(strings.NewReader(""), out)
		sessions := newSessions(term)
		defer sessions.Close()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- cli.Run(ctx, sessions, term, "add a cart") }()
		Eventually(func() int {
			agent.mu.Lock()
			defer agent.mu.Unlock()
			return len(agent.sent)
		}).Should(Equal(1))
		cancel()

		Eventually(done).Should(Receive(BeNil()))
		status, err := sessions.Status(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Running).To(BeFalse())
	})
})
