package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/sessions"
)

// NewSessionsCommand returns the sessions subcommand.
func NewSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect conversation sessions",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all sessions",
				Action: runSessionsList,
			},
			{
				Name:      "show",
				Usage:     "Show messages in a session",
				ArgsUsage: "<session_id>",
				Action:    runSessionsShow,
			},
		},
		DefaultCommand: "list",
	}
}

func newSessionStore() (*sessions.FileStore, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return sessions.NewFileStore(filepath.Join(dataDir, "sessions")), nil
}

func runSessionsList(_ context.Context, _ *cli.Command) error {
	store, err := newSessionStore()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}

	list, err := store.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tPLATFORM\tMESSAGES\tTOKENS IN/OUT\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
			s.ID, s.UserID, s.Platform, s.MessageCount,
			s.TokenUsage.Input, s.TokenUsage.Output,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSessionsShow(_ context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return cli.Exit("usage: xbot sessions show <session_id>", exitUserError)
	}

	store, err := newSessionStore()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}

	msgs, err := store.LoadMessages(sessionID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages in this session.")
		return nil
	}

	for _, m := range msgs {
		fmt.Printf("[%s] %s:\n%s\n\n", m.Ts.Format("15:04:05"), m.Role, m.Content)
	}
	return nil
}
