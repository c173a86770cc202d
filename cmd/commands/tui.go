package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/clients/tui"
	wsclient "github.com/xbot-ai/xbot/clients/ws"
)

// NewTUICommand returns the tui subcommand.
func NewTUICommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Interactive chat with the core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway websocket URL",
				Value: "ws://127.0.0.1:18900/api/ws",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User ID to chat as",
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to attach to (default tui_<user>)",
			},
		},
		Action: runTUI,
	}
}

func runTUI(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	sessionID := cmd.String("session")
	if sessionID == "" {
		sessionID = "tui_" + userID
	}

	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	program := tea.NewProgram(tui.New(client, sessionID, userID), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
