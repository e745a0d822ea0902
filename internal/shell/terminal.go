package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Terminal runs shell commands for the agent. Cancelling ctx aborts a
// foreground command.
type Terminal interface {
	Run(ctx context.Context, command string) (string, error)
	Start(command string) error
	Shell() string
	Dir() string
}

// Local runs commands through the configured shell in a fixed directory.
type Local struct {
	shell   string
	dir     string
	timeout time.Duration
	runner  CommandRunner

	mu         sync.Mutex
	background []*exec.Cmd
}

func NewLocal(shell, dir string, timeout time.Duration, runner CommandRunner) *Local {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	return &Local{shell: shell, dir: dir, timeout: timeout, runner: runner}
}

func (l *Local) Shell() string { return l.shell }

func (l *Local) Dir() string { return l.dir }

// Run executes command and returns its combined output. A non-zero exit is
// not an error; the output is returned with the exit code appended.
func (l *Local) Run(ctx context.Context, command string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	name, args := l.invocation(command)
	out, err := l.runner.Run(ctx, Command{Name: name, Args: args, Dir: l.dir})

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return string(out), ctx.Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("%s\nCommand timed out after %s.", out, l.timeout), nil
	case err != nil:
		if code := ExitCode(err); code >= 0 {
			return fmt.Sprintf("%s\nExit code: %d", out, code), nil
		}
		return "", fmt.Errorf("run %q: %w", command, err)
	}
	return string(out), nil
}

// Start launches command without waiting. Processes are killed by Close.
func (l *Local) Start(command string) error {
	name, args := l.invocation(command)
	cmd := exec.Command(name, args...)
	cmd.Dir = l.dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", command, err)
	}

	l.mu.Lock()
	l.background = append(l.background, cmd)
	l.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("background command exited", "command", command, "error", err)
		}
	}()
	return nil
}

// Close kills background processes.
func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cmd := range l.background {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	l.background = nil
}

func (l *Local) invocation(command string) (string, []string) {
	switch l.shell {
	case "powershell", "pwsh":
		return l.shell, []string{"-NoProfile", "-Command", command}
	case "cmd":
		return "cmd", []string{"/C", command}
	case "":
		return "bash", []string{"-c", command}
	default:
		return l.shell, []string{"-c", command}
	}
}
