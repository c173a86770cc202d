package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/xbot-ai/xbot/cmd/commands"
	"github.com/xbot-ai/xbot/internal/config"
)

func main() {
	// Credentials load before anything touches a provider. A missing
	// DATA_DIR is fine here; commands that need it fail with a real error.
	if dataDir, err := config.DataDir(); err == nil {
		if err := config.LoadDotenv(config.DotenvPath(dataDir)); err != nil {
			slog.Warn("failed to load .env", "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := commands.NewRootCommand()
	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("fatal", "error", err)
		exitCode := 1
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			exitCode = coder.ExitCode()
		}
		os.Exit(exitCode)
	}
}
