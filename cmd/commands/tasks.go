package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
)

// openInbox rehydrates the on-disk inbox without a running core. The bus is
// throwaway; nothing subscribes to it.
func openInbox() (*inbox.Inbox, func(), error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, nil, err
	}
	bus := events.NewBus(16)
	in, err := inbox.New(filepath.Join(dataDir, "inbox"), bus)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return in, bus.Close, nil
}

// NewListTasksCommand returns the list-tasks subcommand.
func NewListTasksCommand() *cli.Command {
	return &cli.Command{
		Name:   "list-tasks",
		Usage:  "List task envelopes in the inbox",
		Action: runListTasks,
	}
}

func runListTasks(_ context.Context, _ *cli.Command) error {
	in, cleanup, err := openInbox()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	defer cleanup()

	list := in.List()
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tPRIORITY\tAGE\tGOAL")
	for _, t := range list {
		goal := t.Goal
		if len(goal) > 60 {
			goal = goal[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TaskID,
			t.Source,
			t.Status,
			t.Priority,
			time.Since(t.CreatedAt).Truncate(time.Second),
			goal,
		)
	}
	return w.Flush()
}

// NewCancelTaskCommand returns the cancel-task subcommand.
func NewCancelTaskCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel-task",
		Usage:     "Cancel a pending or running task",
		ArgsUsage: "<task_id>",
		Action:    runCancelTask,
	}
}

func runCancelTask(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return cli.Exit("usage: xbot cancel-task <task_id>", exitUserError)
	}

	in, cleanup, err := openInbox()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	defer cleanup()

	if _, err := in.Cancel(taskID, "cancelled via cli"); err != nil {
		return cli.Exit(fmt.Sprintf("cancel task: %v", err), exitUserError)
	}
	fmt.Printf("Task %s cancelled.\n", taskID)
	return nil
}

// NewReplayTaskCommand returns the replay-task subcommand: the logged event
// timeline of one task, in order.
func NewReplayTaskCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay-task",
		Usage:     "Print the event timeline of a task from the event log",
		ArgsUsage: "<task_id>",
		Action:    runReplayTask,
	}
}

func runReplayTask(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return cli.Exit("usage: xbot replay-task <task_id>", exitUserError)
	}

	in, cleanup, err := openInbox()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	defer cleanup()

	env, err := in.Get(taskID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("get task: %v", err), exitUserError)
	}

	dataDir, _ := config.DataDir()
	log := events.OpenLog(filepath.Join(dataDir, "events"))

	logged, err := log.ReadSession(env.SessionID)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}

	fmt.Printf("Task %s  [%s]  %s\n", env.TaskID, env.Status, env.Goal)
	if env.AssignedWorkerID != "" {
		fmt.Printf("Worker:  %s (%s)\n", env.AssignedWorkerID, env.DispatchReason)
	}
	fmt.Println()

	count := 0
	for _, e := range logged {
		if e.TaskID != taskID {
			continue
		}
		count++
		fmt.Printf("  %s  %-22s %s\n",
			e.Timestamp.Format("15:04:05.000"), e.Type, eventNote(e))
	}
	if count == 0 {
		fmt.Println("  (no logged events; was the core running with this data dir?)")
	}

	if env.FinalOutput != "" {
		fmt.Printf("\nFinal output:\n%s\n", env.FinalOutput)
	}
	if env.Error != "" {
		fmt.Printf("\nError: %s\n", env.Error)
	}
	return nil
}

// eventNote picks the one payload field worth a glance per event type.
func eventNote(e events.Event) string {
	for _, key := range []string{"name", "status", "content", "error", "note", "summary"} {
		if v, ok := e.Payload[key].(string); ok && v != "" {
			if len(v) > 80 {
				v = v[:77] + "..."
			}
			return v
		}
	}
	return ""
}
