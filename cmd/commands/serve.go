package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	einoCallbacks "github.com/cloudwego/eino/callbacks"
	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/agent"
	"github.com/xbot-ai/xbot/internal/callbacks"
	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/gateway"
	"github.com/xbot-ai/xbot/internal/heartbeat"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/memory"
	"github.com/xbot-ai/xbot/internal/models"
	"github.com/xbot-ai/xbot/internal/scheduler"
	"github.com/xbot-ai/xbot/internal/secrets"
	"github.com/xbot-ai/xbot/internal/sessions"
	"github.com/xbot-ai/xbot/internal/skills"
	"github.com/xbot-ai/xbot/internal/soul"
	"github.com/xbot-ai/xbot/internal/state"
	"github.com/xbot-ai/xbot/internal/tools"
	"github.com/xbot-ai/xbot/internal/workers"
)

// NewServeCommand returns the serve subcommand: the long-running core with
// inbox, orchestrator, heartbeat, scheduler, worker fleet, and gateway.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the agentic core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Gateway host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Gateway port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	// Event bus plus its two persistent subscribers: the JSONL event log
	// (replay-task reads it back) and the token cost tracker.
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	eventLog := events.NewLogger(filepath.Join(cfg.DataDir, "events"), bus)
	defer eventLog.Close()

	einoCallbacks.AppendGlobalHandlers(callbacks.NewEventBusHandler(bus, events.SourceAgent))

	sessionStore := sessions.NewFileStore(filepath.Join(cfg.DataDir, "sessions"))
	costTracker := sessions.NewCostTracker(bus, sessionStore)
	defer costTracker.Close()

	st, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	in, err := inbox.New(filepath.Join(cfg.DataDir, "inbox"), bus)
	if err != nil {
		return fmt.Errorf("open inbox: %w", err)
	}

	registry, skillsReg, memSvc, err := buildRegistry(ctx, cfg, bus, st)
	if err != nil {
		return err
	}

	// Fleet: store, task log, and the runtime that executes dispatches.
	// Worker credentials come from the age vault and reach external CLI
	// backends as environment variables.
	fleet, err := workers.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open worker fleet: %w", err)
	}
	taskLog := workers.NewTaskLog(cfg.DataDir)

	vault, err := secrets.OpenVault(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	runtime := workers.NewRuntime(fleet, taskLog, bus, workers.Options{
		ProgressEvery: cfg.Workers.ProgressEvery.Duration(),
		Credentials:   vault.Env,
	})
	registry.Register("list_workers", workers.ListWorkersTool{Store: fleet})
	registry.Register("worker_status", workers.WorkerStatusTool{Store: fleet, Log: taskLog})
	registry.Register("dispatch_worker", workers.DispatchWorkerTool{Runtime: runtime, Inbox: in})

	agentOpts := agent.Options{
		Config:   cfg.Agent,
		DataDir:  cfg.DataDir,
		Inbox:    in,
		Registry: registry,
		Models:   models.NewRegistry(cfg.Models),
		Souls:    soul.NewStore(st),
		Sessions: sessionStore,
		Bus:      bus,
		MemoryOn: memSvc != nil,
	}
	orchestrator := agent.NewService(agentOpts)

	// core-agent workers run a nested loop under their own SOUL and the
	// worker tool profile.
	runtime.SetNested(agent.NewWorkerRunner(agentOpts, fleet))

	jobs := []heartbeat.Job{
		heartbeat.RSSJob{State: st},
		heartbeat.ReminderJob{State: st},
		heartbeat.WatchlistJob{State: st},
	}
	if memSvc != nil {
		jobs = append(jobs, heartbeat.CompactionJob{Memory: memSvc})
	}
	hb := heartbeat.NewEngine(st, in, bus, cfg.Heartbeat, jobs...)

	sched := scheduler.New(st, in, bus)

	server := gateway.NewServer(bus, sessionStore, fleet, cfg.Gateway.Host, cfg.Gateway.Port)
	server.SetTaskHandler(gateway.NewTaskHandler(in))

	go orchestrator.Run(ctx)
	go in.RunRetention(ctx, time.Hour, cfg.Inbox.Retention.Duration())
	go hb.Run(ctx)
	go sched.Run(ctx)
	go func() {
		if err := skillsReg.Watch(ctx); err != nil {
			slog.Warn("skill watcher stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildRegistry assembles the tool surface: primitives, skills, and memory.
// mcp-serve reuses it so the MCP surface stays identical to the loop's.
func buildRegistry(ctx context.Context, cfg *config.Config, bus *events.Bus, st *state.Store) (*tools.Registry, *skills.Registry, *memory.Service, error) {
	access, err := tools.NewAccessStore(config.KernelPath(cfg.DataDir))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tool access: %w", err)
	}

	registry := tools.NewRegistry(access)
	registry.Register("read", tools.ReadTool{})
	registry.Register("write", tools.WriteTool{})
	registry.Register("edit", tools.EditTool{})
	registry.Register("bash", tools.BashTool{})

	roots := cfg.Skills.Dirs
	if len(roots) == 0 {
		roots = []string{filepath.Join(cfg.DataDir, "skills")}
	}
	skillsReg, err := skills.NewRegistry(roots...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load skills: %w", err)
	}

	videoDesc, videoRun := skills.NewDownloadVideoSkill(st, filepath.Join(cfg.DataDir, "cache", "videos"))
	if err := skillsReg.RegisterNative(videoDesc, videoRun); err != nil {
		return nil, nil, nil, err
	}
	searchDesc, searchRun, err := skills.NewWebSearchSkill(ctx, cfg.Skills.WebSearch)
	if err != nil {
		slog.Warn("web_search skill unavailable", "error", err)
	} else if err := skillsReg.RegisterNative(searchDesc, searchRun); err != nil {
		return nil, nil, nil, err
	}

	executor := skills.NewExecutor(skillsReg, bus)
	registry.Register("run_extension", skills.RunExtensionTool{Exec: executor})
	registry.Register("list_extensions", skills.ListExtensionsTool{Registry: skillsReg})

	var memSvc *memory.Service
	if cfg.Memory.Enabled {
		memSvc, err = memory.NewService(ctx, filepath.Join(cfg.DataDir, "memory"), cfg.Memory)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open memory: %w", err)
		}
		memory.RegisterTools(registry, memSvc)
	}

	return registry, skillsReg, memSvc, nil
}
