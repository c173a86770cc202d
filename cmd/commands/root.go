// Package commands holds the xbot CLI: the long-running serve process plus
// the operational commands that poke at a deployment from the outside.
package commands

import (
	"github.com/urfave/cli/v3"
)

// Exit codes shared by the operational commands.
const (
	exitUserError    = 2
	exitStateCorrupt = 3
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "xbot",
		Usage: "Agentic core: task inbox, orchestrator, worker fleet",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewWakeCommand(),
			NewServeCommand(),
			NewAskCommand(),
			NewTUICommand(),
			NewStatusCommand(),
			NewSessionsCommand(),
			NewListTasksCommand(),
			NewCancelTaskCommand(),
			NewReplayTaskCommand(),
			NewInspectWorkerCommand(),
			NewMigrateStateCommand(),
			NewSecretsCommand(),
			NewMCPServeCommand(),
		},
	}
}
