package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/workers"
)

// NewInspectWorkerCommand returns the inspect-worker subcommand.
func NewInspectWorkerCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect-worker",
		Usage:     "Show a worker's record and recent task history",
		ArgsUsage: "<worker_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of recent tasks to show",
				Value: 10,
			},
		},
		Action: runInspectWorker,
	}
}

func runInspectWorker(_ context.Context, cmd *cli.Command) error {
	workerID := cmd.Args().First()
	if workerID == "" {
		return cli.Exit("usage: xbot inspect-worker <worker_id>", exitUserError)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}

	fleet, err := workers.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("open fleet: %w", err)
	}

	rec, err := fleet.Get(workerID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("worker %s not found", workerID), exitUserError)
	}

	fmt.Printf("Worker:        %s (%s)\n", rec.WorkerID, fleet.DisplayName(rec.WorkerID))
	fmt.Printf("Backend:       %s\n", rec.Backend)
	fmt.Printf("Status:        %s\n", rec.Status)
	fmt.Printf("Capabilities:  %v\n", rec.Capabilities)
	if rec.Summary != "" {
		fmt.Printf("Last result:   %s\n", rec.Summary)
	}
	if rec.LastError != "" {
		fmt.Printf("Last error:    %s\n", rec.LastError)
	}

	log := workers.NewTaskLog(dataDir)
	tasks, err := log.ListForWorker(workerID, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("read task log: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("\nNo logged tasks.")
		return nil
	}

	fmt.Println("\nRecent tasks:")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tINSTRUCTION")
	for _, t := range tasks {
		instruction := t.Instruction
		if len(instruction) > 60 {
			instruction = instruction[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.TaskID, t.Status, t.CreatedAt.Format("01-02 15:04"), instruction)
	}
	return w.Flush()
}
