package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/models"
	"github.com/xbot-ai/xbot/internal/tools"
	"github.com/xbot-ai/xbot/internal/workers"
)

// WorkerRunner executes dispatched worker tasks with a nested loop. It is
// the core-agent backend of the worker runtime: same loop, worker identity,
// worker tool surface.
type WorkerRunner struct {
	opts  Options
	fleet *workers.Store
}

// NewWorkerRunner builds the nested runner over the shared service wiring.
func NewWorkerRunner(opts Options, fleet *workers.Store) *WorkerRunner {
	return &WorkerRunner{opts: opts, fleet: fleet}
}

var _ workers.Nested = (*WorkerRunner)(nil)

// RunWorkerTask runs one instruction under the worker's identity and returns
// the worker's final summary.
func (r *WorkerRunner) RunWorkerTask(ctx context.Context, workerID, instruction string) (string, error) {
	rec, err := r.fleet.Get(workerID)
	if err != nil {
		return "", fmt.Errorf("worker %s: %w", workerID, err)
	}

	caller := tools.WorkerCaller(workerID, rec.WorkspacePath, rec.Shell())

	// Workers always run on the fast tier when routing is enabled; their
	// tasks are scoped and the manager owns the expensive reasoning.
	tier := models.TierDefault
	if r.opts.Config.ModelRouting() {
		tier = models.TierFast
	}
	chatModel, err := r.opts.Models.ForTier(ctx, tier)
	if err != nil {
		return "", err
	}

	doc, err := r.opts.Souls.Worker(workerID)
	if err != nil {
		return "", err
	}

	infos, err := r.opts.Registry.Declarations(ctx, caller)
	if err != nil {
		return "", err
	}

	prompt := ComposePrompt(PromptInput{
		Worker:  true,
		Persona: doc.Persona,
		Tools:   infos,
	})

	loop := &Loop{
		Model:     chatModel,
		ModelName: r.opts.Models.TierName(tier),
		Registry:  r.opts.Registry,
		Caller:    caller,
		Tools:     infos,
		Bus:       r.opts.Bus,
		MaxTurns:  r.opts.Config.MaxTurns,
	}

	return loop.Run(ctx, []*schema.Message{
		schema.SystemMessage(prompt),
		schema.UserMessage(instruction),
	})
}
