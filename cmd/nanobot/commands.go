package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanobot-run/nanobot/internal/agent"
	"github.com/nanobot-run/nanobot/internal/bus"
	"github.com/nanobot-run/nanobot/internal/channels"
	"github.com/nanobot-run/nanobot/internal/channels/cli"
	"github.com/nanobot-run/nanobot/internal/channels/discord"
	"github.com/nanobot-run/nanobot/internal/channels/slack"
	"github.com/nanobot-run/nanobot/internal/channels/telegram"
	"github.com/nanobot-run/nanobot/internal/channels/webui"
	"github.com/nanobot-run/nanobot/internal/channels/whatsapp"
	"github.com/nanobot-run/nanobot/internal/config"
	"github.com/nanobot-run/nanobot/internal/cron"
	"github.com/nanobot-run/nanobot/internal/maintenance"
	"github.com/nanobot-run/nanobot/internal/mcp"
	"github.com/nanobot-run/nanobot/internal/memory"
	"github.com/nanobot-run/nanobot/internal/nativetools"
	"github.com/nanobot-run/nanobot/internal/providers"
	"github.com/nanobot-run/nanobot/internal/sessions"
	"github.com/nanobot-run/nanobot/internal/storage"
	"github.com/nanobot-run/nanobot/internal/subagent"
)

// runtime bundles every wired component a command needs, built once by
// buildRuntime and torn down by its own close method.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *bus.Bus
	sessions  sessions.Store
	memory    memory.Store
	registry  *agent.Registry
	providers *providers.Registry
	mcp       *mcp.Manager
	subagents *subagent.Manager
	cron      *cron.Scheduler
	channels  *channels.Registry
	loop      *agent.Loop

	closeDB func() error
}

// buildRuntime loads config and wires every component named in SPEC_FULL.md:
// storage -> sessions/memory stores -> tool registry with native tools ->
// provider registry -> subagent manager and spawn tool -> MCP manager ->
// context builder -> agent loop -> scheduler -> channel registry.
func buildRuntime(configPath string, debug bool) (*runtime, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := storage.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sessionStore := sessions.NewSQLiteStore(db, logger)
	memThresholds := memory.Thresholds{
		MaxEntries: cfg.MemoryThresholds.MaxEntries, MaxBytes: cfg.MemoryThresholds.MaxBytes,
		ReadEntries: cfg.MemoryThresholds.ReadEntries, ReadBytes: cfg.MemoryThresholds.ReadBytes,
		ReadHeadCount: cfg.MemoryThresholds.ReadHeadCount, ReadTailCount: cfg.MemoryThresholds.ReadTailCount,
	}
	memoryStore := memory.NewSQLiteStore(db, logger, memThresholds)

	b := bus.New()

	registry := agent.NewRegistry(logger)
	registerNativeTools(registry, cfg.Workspace, b, logger, cfg.ClaudeCodeConcurrency)

	providerReg := providers.NewRegistry()
	registerProviders(providerReg, cfg)

	subagentMgr := subagent.NewManager(b, registry, providerReg, memoryStore, cfg.DefaultModel, cfg.Workspace, logger, cfg.MaxConcurrentSubagents)
	if err := registry.Register(subagent.NewSpawnTool(subagentMgr)); err != nil {
		return nil, fmt.Errorf("register spawn tool: %w", err)
	}

	mcpConfigs := make([]mcp.ServerConfig, 0, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		mcpConfigs = append(mcpConfigs, mcp.ServerConfig{
			ID: s.ID, Name: s.Name, Enabled: s.Enabled,
			Transport: mcp.Transport(s.Transport), Command: s.Command, Args: s.Args, URL: s.URL,
		})
	}
	mcpMgr := mcp.NewManager(mcpConfigs, registry, mcp.DialAny, logger, cfg.MCPCooldown)

	contextBuilder := &agent.ContextBuilder{
		Workspace: cfg.Workspace,
		Budgets: agent.TokenBudgets{
			Identity: cfg.TokenBudgets.Identity, Bootstrap: cfg.TokenBudgets.Bootstrap,
			Memory: cfg.TokenBudgets.Memory, Skills: cfg.TokenBudgets.Skills, Total: cfg.TokenBudgets.Total,
		},
		Memory:        memoryStore,
		MirrorDefault: cfg.Mirror.AttackLevel,
	}

	loop := &agent.Loop{
		Bus: b, Sessions: sessionStore, Registry: registry, Context: contextBuilder,
		Providers: providerReg, Model: cfg.DefaultModel,
		MaxIterations:    cfg.MaxIterations,
		MaxExecutionTime: time.Duration(cfg.MaxExecutionTimeSec) * time.Second,
		MessageTimeout:   time.Duration(cfg.MessageTimeoutSec) * time.Second,
		LoopWindow:       cfg.LoopDetectionWindow,
		Logger:           logger,
		MCP:              mcpMgr,
	}

	repo := cron.NewRepository(db)
	scheduler := cron.NewScheduler(repo, b, logger)
	integrator := maintenance.NewAutoMemoryIntegrator(sessionStore, memoryStore, providerReg, cfg.DefaultModel, logger, cfg.AutoMemoryLookbackMin, 100)
	scheduler.RegisterHandler("auto_memory_integrate", func(ctx context.Context) (string, error) {
		return integrator.IntegrateNow(ctx)
	})
	maintSvc := maintenance.NewService(memoryStore, providerReg, cfg.DefaultModel, logger, time.Duration(cfg.MaintenanceTickMin)*time.Minute)
	scheduler.RegisterHandler("memory_maintenance", func(ctx context.Context) (string, error) {
		return maintSvc.Tick(ctx, time.Duration(cfg.MaintenanceTickMin)*time.Minute)
	})

	channelReg, err := registerChannels(context.Background(), cfg, b, logger)
	if err != nil {
		return nil, fmt.Errorf("register channels: %w", err)
	}

	return &runtime{
		cfg: cfg, logger: logger, bus: b, sessions: sessionStore, memory: memoryStore,
		registry: registry, providers: providerReg, mcp: mcpMgr, subagents: subagentMgr,
		cron: scheduler, channels: channelReg, loop: loop,
		closeDB: db.Close,
	}, nil
}

func registerNativeTools(registry *agent.Registry, workspace string, b *bus.Bus, logger *slog.Logger, claudeCodeConcurrency int) {
	tools := []agent.Tool{
		&nativetools.ReadFileTool{Workspace: workspace},
		&nativetools.WriteFileTool{Workspace: workspace},
		&nativetools.EditFileTool{Workspace: workspace},
		&nativetools.ListDirTool{Workspace: workspace},
		&nativetools.ExecTool{Workspace: workspace},
		&nativetools.WebSearchTool{APIKey: os.Getenv("NANOBOT_BRAVE_API_KEY")},
		&nativetools.WebFetchTool{},
		agent.NewShieldedTool(&nativetools.ClaudeCodeTool{Workspace: workspace}, b, logger, claudeCodeConcurrency),
	}
	for _, t := range tools {
		_ = registry.Register(t)
	}
}

func registerProviders(reg *providers.Registry, cfg *config.Config) {
	if pc, ok := cfg.Providers["anthropic"]; ok && pc.APIKey != "" {
		reg.Register("anthropic", providers.NewAnthropicProvider(pc.APIKey, pc.BaseURL, pc.DefaultModel))
	}
	if pc, ok := cfg.Providers["openai"]; ok && pc.APIKey != "" {
		reg.Register("openai", providers.NewOpenAIProvider(pc.APIKey, pc.BaseURL, pc.DefaultModel))
	}
}

func registerChannels(ctx context.Context, cfg *config.Config, b *bus.Bus, logger *slog.Logger) (*channels.Registry, error) {
	reg := channels.NewRegistry(b)
	reg.Register(cli.NewAdapter(b))

	if cc, ok := cfg.Channels["discord"]; ok && cc.Enabled {
		adapter, err := discord.NewAdapter(discord.Config{Token: cc.BotToken, Logger: logger}, b)
		if err != nil {
			return nil, fmt.Errorf("discord adapter: %w", err)
		}
		reg.Register(adapter)
	}
	if cc, ok := cfg.Channels["telegram"]; ok && cc.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{Token: cc.BotToken, Logger: logger}, b)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		reg.Register(adapter)
	}
	if cc, ok := cfg.Channels["slack"]; ok && cc.Enabled {
		adapter, err := slack.NewAdapter(slack.Config{BotToken: cc.BotToken, AppToken: cc.AppToken, Logger: logger}, b)
		if err != nil {
			return nil, fmt.Errorf("slack adapter: %w", err)
		}
		reg.Register(adapter)
	}
	if cc, ok := cfg.Channels["whatsapp"]; ok && cc.Enabled {
		dbPath := cc.SessionDBPath
		if dbPath == "" {
			dbPath = "whatsapp.db"
		}
		adapter, err := whatsapp.NewAdapter(ctx, whatsapp.Config{SessionDBPath: dbPath, Logger: logger}, b)
		if err != nil {
			return nil, fmt.Errorf("whatsapp adapter: %w", err)
		}
		reg.Register(adapter)
	}
	if cc, ok := cfg.Channels["webui"]; ok && cc.Enabled {
		adapter, err := webui.NewAdapter(webui.Config{
			ListenAddr: cc.ListenAddr, SigningKey: []byte(cc.SigningKey), Password: cc.Password, Logger: logger,
		}, b)
		if err != nil {
			return nil, fmt.Errorf("webui adapter: %w", err)
		}
		reg.Register(adapter)
	}
	return reg, nil
}

func (rt *runtime) close() {
	if rt.mcp != nil {
		_ = rt.mcp.Close()
	}
	if rt.closeDB != nil {
		_ = rt.closeDB()
	}
}

// =============================================================================
// serve
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run nanobot: agent loop, scheduler and every configured channel",
		Long: `serve loads the configuration, opens the database, starts the agent
loop, the subagent manager's capacity, the cron-style scheduler and every
enabled channel adapter, then blocks until SIGINT/SIGTERM.`,
		Example: `  nanobot serve
  nanobot serve --config /etc/nanobot/nanobot.yaml
  nanobot serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nanobot.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	rt, err := buildRuntime(configPath, debug)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.mcp.RegisterLazy(ctx); err != nil {
		rt.logger.Warn("mcp lazy registration failed", "error", err)
	}
	if err := rt.cron.SeedSystemJobs(ctx, rt.cfg.AutoMemoryIntervalMin, rt.cfg.MaintenanceTickMin); err != nil {
		return fmt.Errorf("seed system cron jobs: %w", err)
	}

	go rt.loop.Run(ctx)
	go func() {
		if err := rt.cron.Run(ctx); err != nil && ctx.Err() == nil {
			rt.logger.Error("scheduler stopped", "error", err)
		}
	}()
	go rt.channels.RunOutboundDispatch(ctx, func(channel string, err error) {
		rt.logger.Warn("outbound dispatch failed", "channel", channel, "error", err)
	})
	rt.channels.StartAll(ctx, func(name string, err error) {
		rt.logger.Error("channel adapter stopped", "channel", name, "error", err)
	})

	rt.logger.Info("nanobot serving", "channels", rt.channels.Names())
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.channels.StopAll(stopCtx)
	return nil
}

// =============================================================================
// chat
// =============================================================================

func buildChatCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a local terminal chat session (no other channels)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nanobot.yaml", "Path to YAML configuration file")
	return cmd
}

func runChat(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(configPath, false)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.mcp.RegisterLazy(ctx); err != nil {
		rt.logger.Warn("mcp lazy registration failed", "error", err)
	}

	go rt.loop.Run(ctx)
	go rt.channels.RunOutboundDispatch(ctx, func(channel string, err error) {
		rt.logger.Warn("outbound dispatch failed", "channel", channel, "error", err)
	})

	cliAdapter, _ := rt.channels.Get("cli")
	return cliAdapter.Start(ctx)
}

// =============================================================================
// cron
// =============================================================================

func buildCronCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{Use: "cron", Short: "Inspect and manage scheduled jobs"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, false)
			if err != nil {
				return err
			}
			defer rt.close()
			jobs, err := rt.cron.Repo.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, job := range jobs {
				fmt.Fprintf(out, "%-30s %-8s enabled=%v next_run=%d\n", job.ID, job.Trigger, job.Enabled, job.NextRunAtMs)
			}
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a scheduled job immediately, bypassing its trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, false)
			if err != nil {
				return err
			}
			defer rt.close()
			result, err := rt.cron.RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nanobot.yaml", "Path to YAML configuration file")
	cmd.AddCommand(list, run)
	return cmd
}

// =============================================================================
// memory
// =============================================================================

func buildMemoryCmd() *cobra.Command {
	var configPath string
	var scope string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect long-term memory",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current memory entries for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath, false)
			if err != nil {
				return err
			}
			defer rt.close()
			entries, err := rt.memory.GetMemories(cmd.Context(), scope, "", 0, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "[%s %s] %s\n", e.EntryDate, e.EntryTime, e.Content)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nanobot.yaml", "Path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&scope, "scope", "global", "Memory scope to inspect")
	cmd.AddCommand(show)
	return cmd
}
