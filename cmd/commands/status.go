package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/config"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show whether the core is running and what it is doing",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	base := fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)

	client := &http.Client{Timeout: 3 * time.Second}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/health", nil)
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Core: NOT RUNNING")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Core: UNHEALTHY (health returned %d)\n", resp.StatusCode)
		return nil
	}
	fmt.Printf("Core: RUNNING (%s)\n", base)

	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tasks", nil)
	tasksResp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer tasksResp.Body.Close()

	var tasks []struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(tasksResp.Body).Decode(&tasks); err != nil {
		return nil
	}

	counts := map[string]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	fmt.Printf("Tasks: %d pending, %d running, %d total\n",
		counts["pending"], counts["running"], len(tasks))
	return nil
}
