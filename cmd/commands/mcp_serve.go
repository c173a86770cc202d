package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/events"
	xbotmcp "github.com/xbot-ai/xbot/internal/mcp"
	"github.com/xbot-ai/xbot/internal/state"
	"github.com/xbot-ai/xbot/internal/tools"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose the tool surface as an MCP server (stdio)",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Tool name or group token to expose, e.g. group:memory (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	// Logging goes to stderr; stdout belongs to the MCP stdio transport.
	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bus := events.NewBus(64)
	defer bus.Close()

	st, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}

	registry, _, _, err := buildRegistry(ctx, cfg, bus, st)
	if err != nil {
		return err
	}

	filter := cmd.StringArg("filter")
	slog.Debug("starting MCP server", "filter", filter)

	caller := tools.ManagerCaller("local", cfg.DataDir)
	server, err := xbotmcp.NewServer(registry, caller, filter)
	if err != nil {
		return err
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}
