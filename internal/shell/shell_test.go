package shell_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/companion/internal/shell"
)

type mockRunner struct {
	runFn     func(ctx context.Context, cmd shell.Command) ([]byte, error)
	callCount int
	lastCmd   shell.Command
}

func (m *mockRunner) Run(ctx context.Context, cmd shell.Command) ([]byte, error) {
	m.callCount++
	m.lastCmd = cmd
	if m.runFn != nil {
		return m.runFn(ctx, cmd)
	}
	return nil, nil
}

var _ = Describe("TrimOutput", func() {
	numbered := func(n int) string {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = fmt.Sprintf("line %d", i+1)
		}
		return strings.Join(lines, "\n")
	}

	It("keeps short output", func() {
		Expect(shell.TrimOutput(numbered(100))).To(Equal(numbered(100)))
	})

	It("keeps head and tail of long output", func() {
		out := shell.TrimOutput(numbered(150))
		lines := strings.Split(out, "\n")
		Expect(lines).To(HaveLen(101))
		Expect(lines[4]).To(Equal("line 5"))
		Expect(lines[5]).To(ContainSubstring("omitted"))
		Expect(lines[6]).To(Equal("line 56"))
		Expect(lines[100]).To(Equal("line 150"))
	})

	It("keeps the last characters of wide output", func() {
		out := shell.TrimOutput(strings.Repeat("x", 6000) + "END")
		Expect(out).To(HavePrefix("(some command output omitted)...\n"))
		Expect(out).To(HaveSuffix("END"))
		Expect(len(out)).To(Equal(len("(some command output omitted)...\n") + 5000))
	})
})

var _ = Describe("Local", func() {
	var runner *mockRunner

	BeforeEach(func() {
		runner = &mockRunner{}
	})

	It("runs the command through the shell in its directory", func() {
		runner.runFn = func(context.Context, shell.Command) ([]byte, error) {
			return []byte("ok"), nil
		}
		term := shell.NewLocal("zsh", "/project", time.Minute, runner)

		out, err := term.Run(context.Background(), "ls -la")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("ok"))
		Expect(runner.lastCmd).To(Equal(shell.Command{Name: "zsh", Args: []string{"-c", "ls -la"}, Dir: "/project"}))
	})

	It("uses -Command for powershell", func() {
		term := shell.NewLocal("powershell", "C:/p", 0, runner)
		_, _ = term.Run(context.Background(), "dir")
		Expect(runner.lastCmd.Args).To(Equal([]string{"-NoProfile", "-Command", "dir"}))
	})

	It("returns cancellation as an error", func() {
		ctx, cancel := context.WithCancel(context.Background())
		runner.runFn = func(context.Context, shell.Command) ([]byte, error) {
			cancel()
			return []byte("partial"), errors.New("signal: killed")
		}
		term := shell.NewLocal("bash", "/p", time.Minute, runner)

		_, err := term.Run(ctx, "sleep 100")
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("reports a timeout in the output", func() {
		runner.runFn = func(ctx context.Context, _ shell.Command) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		term := shell.NewLocal("bash", "/p", 10*time.Millisecond, runner)

		out, err := term.Run(context.Background(), "sleep 100")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("timed out"))
	})

	It("fails when the shell cannot start", func() {
		runner.runFn = func(context.Context, shell.Command) ([]byte, error) {
			return nil, errors.New("executable file not found")
		}
		term := shell.NewLocal("nosuchshell", "/p", 0, runner)
		_, err := term.Run(context.Background(), "true")
		Expect(err).To(HaveOccurred())
	})
})

var _ = DescribeTable("StripANSI",
	func(in, want string) {
		Expect(shell.StripANSI(in)).To(Equal(want))
	},
	Entry("colors", "\x1b[32mPASS\x1b[0m src/cart.test.js", "PASS src/cart.test.js"),
	Entry("cursor movement", "\x1b[2K\x1b[1Gdone", "done"),
	Entry("plain text", "no escapes here", "no escapes here"),
)
