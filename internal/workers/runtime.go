package workers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/tools"
)

// Nested runs an instruction through the bounded agent loop under a worker
// identity. The agent package implements it; the wiring happens in cmd so
// the two packages stay decoupled.
type Nested interface {
	RunWorkerTask(ctx context.Context, workerID, instruction string) (string, error)
}

// Options configures the runtime.
type Options struct {
	ProgressEvery time.Duration // cadence of progress relay, default 10s
	CodexBin      string        // default "codex"
	GeminiBin     string        // default "gemini"

	// Credentials returns extra KEY=VALUE pairs injected into external CLI
	// backends; nil means the worker runs with the inherited environment.
	Credentials func(workerID string) []string
}

// Runtime executes dispatched worker tasks.
type Runtime struct {
	store  *Store
	log    *TaskLog
	bus    *events.Bus
	nested Nested
	opts   Options
}

// NewRuntime wires the runtime to the fleet store, the task log, and the bus.
func NewRuntime(store *Store, log *TaskLog, bus *events.Bus, opts Options) *Runtime {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10 * time.Second
	}
	if opts.CodexBin == "" {
		opts.CodexBin = "codex"
	}
	if opts.GeminiBin == "" {
		opts.GeminiBin = "gemini"
	}
	return &Runtime{store: store, log: log, bus: bus, opts: opts}
}

// SetNested installs the core-agent backend.
func (rt *Runtime) SetNested(n Nested) { rt.nested = n }

// Store exposes the fleet store for the management tools.
func (rt *Runtime) Store() *Store { return rt.store }

// Log exposes the task log for inspection commands.
func (rt *Runtime) Log() *TaskLog { return rt.log }

// Dispatch claims the worker, runs the instruction on its backend, and
// returns the finished row. The call is synchronous; progress is relayed
// through the bus while the task runs.
func (rt *Runtime) Dispatch(ctx context.Context, workerID, instruction, source string, metadata map[string]string) (*Task, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("empty instruction")
	}

	rec, err := rt.store.Get(workerID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusOffline {
		return nil, fmt.Errorf("worker %s is offline", workerID)
	}

	task := NewTask(workerID, source, instruction)
	if len(metadata) > 0 {
		task.Metadata = metadata
	}
	if err := rt.store.MarkBusy(workerID, task.TaskID); err != nil {
		return nil, err
	}
	if err := rt.log.Append(task); err != nil {
		rt.store.MarkIdle(workerID, "", err.Error())
		return nil, err
	}

	rt.publish(ctx, events.EventWorkerDispatched, events.WorkerProgressPayload{
		WorkerID:     workerID,
		WorkerTaskID: task.TaskID,
		Status:       string(TaskQueued),
	})

	now := time.Now().UTC()
	task, err = rt.log.Update(task.TaskID, func(t *Task) {
		t.Status = TaskRunning
		t.StartedAt = &now
	})
	if err != nil {
		rt.store.MarkIdle(workerID, "", err.Error())
		return nil, err
	}

	summary, runErr := rt.runBackend(ctx, rec, task)

	ended := time.Now().UTC()
	task, err = rt.log.Update(task.TaskID, func(t *Task) {
		t.EndedAt = &ended
		if runErr != nil {
			t.Status = TaskFailed
			t.Error = runErr.Error()
		} else {
			t.Status = TaskDone
			t.ResultSummary = summary
		}
	})
	if err != nil {
		slog.Error("worker task log update failed", "task", task.TaskID, "error", err)
	}

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if err := rt.store.MarkIdle(workerID, summary, errText); err != nil {
		slog.Error("worker slot release failed", "worker", workerID, "error", err)
	}

	rt.publish(ctx, events.EventWorkerFinished, events.WorkerProgressPayload{
		WorkerID:     workerID,
		WorkerTaskID: task.TaskID,
		Status:       string(task.Status),
		Note:         firstLine(summary, errText),
	})

	if runErr != nil {
		return task, runErr
	}
	return task, nil
}

func (rt *Runtime) runBackend(ctx context.Context, rec *Record, task *Task) (string, error) {
	switch rec.Backend {
	case BackendCoreAgent:
		if rt.nested == nil {
			return "", fmt.Errorf("core-agent backend not wired")
		}
		stop := rt.relayWhileRunning(ctx, rec.WorkerID, task.TaskID)
		defer stop()
		return rt.nested.RunWorkerTask(ctx, rec.WorkerID, task.Instruction)

	case BackendCodex:
		return rt.runCLI(ctx, rec, task, rt.opts.CodexBin, "exec", task.Instruction)

	case BackendGeminiCLI:
		return rt.runCLI(ctx, rec, task, rt.opts.GeminiBin, "-p", task.Instruction)

	case BackendShell:
		return rt.runShell(ctx, rec, task.Instruction)

	default:
		return "", fmt.Errorf("unknown backend %q", rec.Backend)
	}
}

// relayWhileRunning publishes a heartbeat progress event at the relay
// cadence until the returned stop func is called. The nested loop has no
// stdout to sample, so the note only says the task is still running.
func (rt *Runtime) relayWhileRunning(ctx context.Context, workerID, taskID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(rt.opts.ProgressEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.publish(ctx, events.EventWorkerProgress, events.WorkerProgressPayload{
					WorkerID:     workerID,
					WorkerTaskID: taskID,
					Status:       string(TaskRunning),
					Note:         "still working",
				})
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// runCLI spawns an external agent CLI in the worker workspace. Stdout lines
// become progress notes, throttled to the relay cadence; the tail of the
// output is the result summary.
func (rt *Runtime) runCLI(ctx context.Context, rec *Record, task *Task, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = rec.WorkspacePath
	if rt.opts.Credentials != nil {
		if extra := rt.opts.Credentials(rec.WorkerID); len(extra) > 0 {
			cmd.Env = append(os.Environ(), extra...)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	var lastLines []string
	lastRelay := time.Time{}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLines = append(lastLines, line)
		if len(lastLines) > 20 {
			lastLines = lastLines[1:]
		}

		if time.Since(lastRelay) >= rt.opts.ProgressEvery {
			lastRelay = time.Now()
			rt.publish(ctx, events.EventWorkerProgress, events.WorkerProgressPayload{
				WorkerID:     rec.WorkerID,
				WorkerTaskID: task.TaskID,
				Status:       string(TaskRunning),
				Note:         line,
			})
			if _, err := rt.log.Update(task.TaskID, func(t *Task) {
				t.appendEvent("progress", line)
			}); err != nil {
				slog.Debug("progress event not recorded", "task", task.TaskID, "error", err)
			}
		}
	}

	waitErr := cmd.Wait()
	summary := strings.Join(lastLines, "\n")
	if waitErr != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, fmt.Errorf("%s: %w", bin, waitErr)
	}
	return summary, nil
}

// runShell executes the instruction directly through the bash primitive
// under the worker identity, including the command allow-list.
func (rt *Runtime) runShell(ctx context.Context, rec *Record, instruction string) (string, error) {
	caller := tools.WorkerCaller(rec.WorkerID, rec.WorkspacePath, rec.Shell())

	argsJSON, err := json.Marshal(map[string]any{"command": instruction})
	if err != nil {
		return "", err
	}

	resp := tools.BashTool{}.Invoke(ctx, caller, string(argsJSON))
	output, _ := resp.Data["output"].(string)
	if !resp.OK {
		return output, fmt.Errorf("%s: %s", resp.ErrorCode, resp.Message)
	}
	return output, nil
}

func (rt *Runtime) publish(ctx context.Context, t events.EventType, p events.WorkerProgressPayload) {
	if rt.bus == nil {
		return
	}
	rt.bus.Publish(events.NewTaskEvent(t, events.SourceWorker, p,
		events.SessionIDFromContext(ctx), events.TaskIDFromContext(ctx)))
}

func firstLine(summary, errText string) string {
	s := summary
	if errText != "" {
		s = errText
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}
