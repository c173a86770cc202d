package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/tools"
)

// ListWorkersTool reports the fleet state to the manager.
type ListWorkersTool struct {
	Store *Store
}

func (t ListWorkersTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "list_workers",
		Desc: "List the worker fleet: id, backend, status, capabilities, and last result.",
	}, nil
}

func (t ListWorkersTool) Invoke(_ context.Context, _ tools.Caller, _ string) tools.Response {
	records := t.Store.List()

	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		item := map[string]any{
			"worker_id":    rec.WorkerID,
			"name":         t.Store.DisplayName(rec.WorkerID),
			"backend":      rec.Backend,
			"status":       string(rec.Status),
			"capabilities": rec.Capabilities,
		}
		if rec.Summary != "" {
			item["summary"] = rec.Summary
		}
		if rec.LastError != "" {
			item["last_error"] = rec.LastError
		}
		items = append(items, item)
	}

	return tools.OK(fmt.Sprintf("%d workers", len(items)), map[string]any{
		"workers": items,
	})
}

// WorkerStatusTool inspects one worker and its recent task history.
type WorkerStatusTool struct {
	Store *Store
	Log   *TaskLog
}

func (t WorkerStatusTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "worker_status",
		Desc: "Show one worker's state and its recent tasks.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"worker_id": {
				Type:     schema.String,
				Desc:     "Worker id",
				Required: true,
			},
		}),
	}, nil
}

func (t WorkerStatusTool) Invoke(_ context.Context, _ tools.Caller, argsJSON string) tools.Response {
	var args struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Fail(tools.CodeInvalidArgs, err.Error())
	}

	rec, err := t.Store.Get(args.WorkerID)
	if err != nil {
		return tools.Fail(tools.CodeNotFound, err.Error())
	}

	recent, err := t.Log.ListForWorker(args.WorkerID, 5)
	if err != nil {
		return tools.Fail(tools.CodeReadFailed, err.Error())
	}

	taskItems := make([]map[string]any, 0, len(recent))
	for _, task := range recent {
		taskItems = append(taskItems, map[string]any{
			"task_id": task.TaskID,
			"status":  string(task.Status),
			"summary": task.ResultSummary,
			"error":   task.Error,
		})
	}

	return tools.OK(fmt.Sprintf("worker %s is %s", rec.WorkerID, rec.Status), map[string]any{
		"worker_id":    rec.WorkerID,
		"backend":      rec.Backend,
		"status":       string(rec.Status),
		"capabilities": rec.Capabilities,
		"last_error":   rec.LastError,
		"recent_tasks": taskItems,
	})
}

// DispatchWorkerTool hands an instruction to a worker and waits for the
// result. Either worker_id or capability selects the target. When Inbox is
// set, the dispatch is recorded on the originating task envelope.
type DispatchWorkerTool struct {
	Runtime *Runtime
	Inbox   *inbox.Inbox
}

func (t DispatchWorkerTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "dispatch_worker",
		Desc: "Dispatch an instruction to a worker and wait for its result. Pick a worker by id, or by capability to let the fleet choose.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"instruction": {
				Type:     schema.String,
				Desc:     "What the worker should do, self-contained",
				Required: true,
			},
			"worker_id": {
				Type: schema.String,
				Desc: "Target worker id; omit to select by capability",
			},
			"capability": {
				Type: schema.String,
				Desc: "Required capability when worker_id is omitted",
			},
			"metadata": {
				Type: schema.Object,
				Desc: "Optional string key/value pairs recorded on the worker task",
			},
		}),
	}, nil
}

type dispatchArgs struct {
	Instruction string            `json:"instruction"`
	WorkerID    string            `json:"worker_id"`
	Capability  string            `json:"capability"`
	Metadata    map[string]string `json:"metadata"`
}

func (t DispatchWorkerTool) Invoke(ctx context.Context, _ tools.Caller, argsJSON string) tools.Response {
	var args dispatchArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Fail(tools.CodeInvalidArgs, err.Error())
	}
	if args.Instruction == "" {
		return tools.Fail(tools.CodeInvalidArgs, "instruction is required")
	}

	workerID := args.WorkerID
	reason := "selected by id"
	if workerID == "" {
		rec, err := t.Runtime.Store().Select(args.Capability)
		if err != nil {
			return tools.Fail("worker_unavailable", err.Error())
		}
		workerID = rec.WorkerID
		reason = "capability: " + args.Capability
	}

	if t.Inbox != nil {
		if taskID := events.TaskIDFromContext(ctx); taskID != "" {
			if err := t.Inbox.AssignWorker(taskID, workerID, reason); err != nil {
				slog.Debug("dispatch not recorded on envelope", "task", taskID, "error", err)
			}
		}
	}

	task, err := t.Runtime.Dispatch(ctx, workerID, args.Instruction, SourceManagerDispatch, args.Metadata)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			return tools.Fail("worker_busy", err.Error())
		}
		data := map[string]any{"worker_id": workerID}
		if task != nil {
			data["worker_task_id"] = task.TaskID
			data["error"] = task.Error
		}
		return tools.FailData("worker_failed", err.Error(), data)
	}

	return tools.OK(fmt.Sprintf("worker %s finished task %s", workerID, task.TaskID), map[string]any{
		"worker_id":      workerID,
		"worker_task_id": task.TaskID,
		"status":         string(task.Status),
		"result_summary": task.ResultSummary,
	})
}
