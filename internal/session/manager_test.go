package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/session"
)

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		planner   *mockPlanner
		agent     *mockAgent
		publisher *mockPublisher
		approvals *session.Approvals
		files     *mockFiles
		mgr       session.Manager
		nextID    atomic.Int64
	)

	BeforeEach(func() {
		ctx = context.Background()
		planner = &mockPlanner{}
		agent = &mockAgent{}
		publisher = &mockPublisher{}
		approvals = session.NewApprovals()
		files = &mockFiles{existing: map[string]bool{"/project/src/cart.js": true}}
		nextID.Store(100)
	})

	JustBeforeEach(func() {
		mgr = session.NewManager(session.Config{
			Planner:   planner,
			NewAgent:  func(*model.Conversation) session.Agent { return agent },
			Approvals: approvals,
			Publisher: publisher,
			Files:     files,
			NewID:     func() int64 { return nextID.Add(1) },
		})
	})

	AfterEach(func() {
		mgr.Close()
	})

	It("plans and then starts the agent on the task without a user message", func() {
		conv, err := mgr.Start(ctx, "  add a cart  ", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.ID).To(Equal(int64(101)))
		Expect(conv.Description()).To(Equal("add a cart"))

		mgr.Wait()

		Expect(planner.calls()).To(Equal(1))
		Expect(agent.messages()).To(Equal([]string{""}))
		got, err := mgr.Get(conv.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeIdenticalTo(conv))
	})

	It("rejects an empty task", func() {
		_, err := mgr.Start(ctx, " ", nil)
		Expect(err).To(MatchError(session.ErrEmptyMessage))
	})

	It("reports unknown conversations", func() {
		Expect(mgr.Send(ctx, 1, "hi", nil)).To(MatchError(session.ErrNotFound))
		Expect(mgr.Cancel(1)).To(MatchError(session.ErrNotFound))
		Expect(mgr.Retry(ctx, 1)).To(MatchError(session.ErrNotFound))
		_, err := mgr.Status(1)
		Expect(err).To(MatchError(session.ErrNotFound))
	})

	Context("while a run is active", func() {
		var release chan struct{}

		BeforeEach(func() {
			release = make(chan struct{})
			planner.runFn = func(ctx context.Context, _ *model.Conversation) error {
				select {
				case <-release:
					return nil
				case <-ctx.Done():
					return fmt.Errorf("research: %w", ctx.Err())
				}
			}
		})

		It("refuses a second run", func() {
			conv, err := mgr.Start(ctx, "add a cart", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Send(ctx, conv.ID, "hurry", nil)).To(MatchError(session.ErrBusy))
			Expect(mgr.DeleteMessagesAfter(conv.ID, 0)).To(MatchError(session.ErrBusy))
			status, err := mgr.Status(conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Running).To(BeTrue())

			close(release)
			mgr.Wait()

			status, err = mgr.Status(conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Running).To(BeFalse())
			Expect(mgr.Send(ctx, conv.ID, "next", nil)).To(Succeed())
			mgr.Wait()
			Expect(agent.messages()).To(Equal([]string{"", "next"}))
		})

		It("aborts the run on cancel", func() {
			conv, err := mgr.Start(ctx, "add a cart", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Cancel(conv.ID)).To(Succeed())
			mgr.Wait()

			Expect(agent.messages()).To(BeEmpty())
			Expect(publisher.contents()).To(Equal([]string{"Request was aborted"}))
			frontend := conv.Frontend()
			Expect(frontend).To(HaveLen(1))
			Expect(frontend[0].Kind).To(Equal(model.FrontendError))
		})

		It("cancels every run on close", func() {
			_, err := mgr.Start(ctx, "add a cart", nil)
			Expect(err).NotTo(HaveOccurred())

			mgr.Close()

			Expect(agent.messages()).To(BeEmpty())
			_, err = mgr.Start(ctx, "another", nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when planning fails", func() {
		BeforeEach(func() {
			fail := true
			planner.runFn = func(context.Context, *model.Conversation) error {
				if fail {
					fail = false
					return errors.New("classify task: unauthorized")
				}
				return nil
			}
		})

		It("shows the error and retries from planning", func() {
			conv, err := mgr.Start(ctx, "add a cart", nil)
			Expect(err).NotTo(HaveOccurred())
			mgr.Wait()

			Expect(publisher.contents()).To(Equal([]string{"Error occurred. planning: classify task: unauthorized"}))
			status, err := mgr.Status(conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.LastError).To(ContainSubstring("unauthorized"))

			Expect(mgr.Retry(ctx, conv.ID)).To(Succeed())
			mgr.Wait()

			Expect(planner.calls()).To(Equal(2))
			Expect(agent.messages()).To(Equal([]string{""}))
			Expect(agent.retries()).To(Equal(0))
		})
	})

	It("retries the agent loop once planning is done", func() {
		agent.sendFn = func(context.Context, *model.Conversation, string) error {
			return errors.New("overloaded")
		}
		conv, err := mgr.Start(ctx, "add a cart", nil)
		Expect(err).NotTo(HaveOccurred())
		mgr.Wait()

		Expect(publisher.contents()).To(BeEmpty())

		Expect(mgr.Retry(ctx, conv.ID)).To(Succeed())
		mgr.Wait()

		Expect(planner.calls()).To(Equal(1))
		Expect(agent.retries()).To(Equal(1))
	})

	It("routes approval decisions to the waiting agent", func() {
		decided := make(chan bool, 1)
		agent.sendFn = func(ctx context.Context, conv *model.Conversation, _ string) error {
			ok, err := approvals.Approve(ctx, brain.ApprovalRequest{ID: "ap-1", ConversationID: conv.ID, ToolName: "write"})
			if err != nil {
				return err
			}
			decided <- ok
			return nil
		}
		conv, err := mgr.Start(ctx, "add a cart", nil)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []string {
			status, _ := mgr.Status(conv.ID)
			return status.PendingApprovals
		}).Should(Equal([]string{"ap-1"}))

		Expect(mgr.Decide(conv.ID, "ap-1", true)).To(Succeed())
		Eventually(decided).Should(Receive(BeTrue()))
		mgr.Wait()

		Expect(mgr.Decide(conv.ID, "ap-1", true)).To(MatchError(session.ErrNoPendingApproval))
	})

	Describe("SetFile", func() {
		var conv *model.Conversation

		JustBeforeEach(func() {
			var err error
			conv, err = mgr.Start(ctx, "add a cart", nil)
			Expect(err).NotTo(HaveOccurred())
			mgr.Wait()
		})

		It("adds and toggles project files", func() {
			Expect(mgr.SetFile(conv.ID, "src/cart.js", true)).To(Succeed())
			Expect(conv.Files.IsEnabled("/project/src/cart.js")).To(BeTrue())

			Expect(mgr.SetFile(conv.ID, "src/cart.js", false)).To(Succeed())
			Expect(conv.Files.IsEnabled("/project/src/cart.js")).To(BeFalse())
			Expect(conv.Files.Len()).To(Equal(1))
		})

		It("rejects files outside the project or missing on disk", func() {
			Expect(mgr.SetFile(conv.ID, "/etc/passwd", true)).To(HaveOccurred())
			Expect(mgr.SetFile(conv.ID, "src/missing.js", true)).To(MatchError(ContainSubstring("does not exist")))
			Expect(conv.Files.Len()).To(Equal(0))
		})
	})
})
