package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/companion/common/cache"
	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/common/tokens"
	"basegraph.app/companion/core/config"
	"basegraph.app/companion/internal/brain"
	"basegraph.app/companion/internal/events"
	"basegraph.app/companion/internal/model"
	"basegraph.app/companion/internal/session"
	"basegraph.app/companion/internal/shell"
	"basegraph.app/companion/internal/tools"
	"basegraph.app/companion/internal/workspace"
)

// Options replace parts of the default wiring.
type Options struct {
	// Publisher receives display messages. Defaults to the Redis stream
	// producer when Redis is configured.
	Publisher brain.Publisher
	// Approver decides on tool calls. Defaults to the session approvals,
	// which wait for Manager.Decide.
	Approver brain.Approver
	Runner   shell.CommandRunner
	Web      tools.WebSearcher
}

// App is one wired project: a workspace and the sessions running on it.
type App struct {
	Workspace *workspace.Workspace
	Sessions  session.Manager
	Approvals *session.Approvals
	// Events reads the display streams. Nil without Redis.
	Events *events.Reader

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ws, err := a.workspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	a.Workspace = ws

	large, err := llm.NewAgentClient(llmConfig(cfg.LargeLLM))
	if err != nil {
		return nil, fmt.Errorf("large model client: %w", err)
	}
	small := large
	if cfg.SmallLLM.Enabled() {
		if small, err = llm.NewAgentClient(llmConfig(cfg.SmallLLM)); err != nil {
			return nil, fmt.Errorf("small model client: %w", err)
		}
	}
	smallClient := llm.NewClient(small)

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		if rdb, err = connectRedis(ctx, cfg.Redis.URL); err != nil {
			return nil, err
		}
		producer := events.NewProducer(rdb, cfg.Redis.StreamPrefix)
		a.closers = append(a.closers, func() { _ = producer.Close() })
		a.Events = events.NewReader(rdb, cfg.Redis.StreamPrefix, 0)
		if opts.Publisher == nil {
			opts.Publisher = producer
		}
	}

	store, err := researchCache(cfg, rdb)
	if err != nil {
		return nil, err
	}

	runner := opts.Runner
	if runner == nil {
		runner = shell.ExecCommandRunner{}
	}

	builder := brain.NewContextBuilder(ws, tokens.New(""), smallClient, cfg.Context, cfg.Workspace)
	a.closers = append(a.closers, builder.Close)

	searcher := workspace.NewSearcher(ws, runner, brain.NewKeywordsExtractor(smallClient))

	items, err := brain.LoadResearchItems()
	if err != nil {
		return nil, fmt.Errorf("load research items: %w", err)
	}
	providers := brain.DefaultProviders(ws, builder)
	if err := providers.Validate(items.All()...); err != nil {
		return nil, err
	}
	researcher := brain.NewResearchAgent(small, large, ws, searcher, store, providers,
		brain.ResearchAgentConfig{MaxSteps: cfg.Research.MaxSteps, MaxFileSize: cfg.Context.MaxFileSize},
	)
	planner := brain.NewPlanner(researcher, items, ws, opts.Publisher)

	terminal := shell.NewLocal(cfg.Workspace.Shell, ws.Root(), cfg.Agent.ShellTimeout, runner)
	a.closers = append(a.closers, terminal.Close)

	a.Approvals = session.NewApprovals()
	approver := opts.Approver
	if approver == nil {
		approver = a.Approvals
	}

	env := tools.Env{Files: ws, Terminal: terminal, Codebase: searcher, Web: opts.Web}
	newAgent := func(conv *model.Conversation) session.Agent {
		dispatcher := brain.NewToolDispatcher(tools.NewAgentSet(env, conv), approver, opts.Publisher, cfg.Agent.ApprovalRequired)
		return brain.NewAgent(large, builder, dispatcher, opts.Publisher, cfg.Agent)
	}

	a.Sessions = session.NewManager(session.Config{
		Planner:   planner,
		NewAgent:  newAgent,
		Approvals: a.Approvals,
		Publisher: opts.Publisher,
		Files:     ws,
	})
	// Sessions stop before the parts they use.
	a.closers = append(a.closers, a.Sessions.Close)

	slog.InfoContext(ctx, "project ready",
		"root", ws.Root(),
		"large_model", large.Model(),
		"small_model", small.Model(),
		"redis", rdb != nil)
	ok = true
	return a, nil
}

// Close stops every session and releases the project resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) workspace(cfg config.WorkspaceConfig) (*workspace.Workspace, error) {
	var opts []workspace.Option
	if cfg.Watch {
		tracker, err := workspace.NewTracker(cfg.Root, workspace.LoadIgnore(cfg.Root))
		if err != nil {
			slog.Warn("file watcher unavailable, scanning for modified files instead", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = tracker.Close() })
			opts = append(opts, workspace.WithTracker(tracker))
		}
	}

	ws, err := workspace.New(cfg.Root, opts...)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	return ws, nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func researchCache(cfg config.Config, rdb *redis.Client) (cache.Cache, error) {
	switch cfg.Research.CacheBackend {
	case "", "memory":
		return cache.NewMemory(cfg.Research.CacheTTL), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("research cache backend redis needs REDIS_URL")
		}
		return cache.NewRedis(rdb, cfg.Redis.CachePrefix, cfg.Research.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown research cache backend %q", cfg.Research.CacheBackend)
	}
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:        c.Provider,
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		Model:           c.Model,
		MaxTokens:       c.MaxTokens,
		MaxRetries:      c.MaxRetries,
		ReasoningEffort: llm.ReasoningEffort(c.ReasoningEffort),
	}
}
