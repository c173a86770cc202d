package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xbot-ai/xbot/internal/events"
)

type fakeNested struct {
	result string
	err    error
	calls  int
}

func (f *fakeNested) RunWorkerTask(_ context.Context, workerID, instruction string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s: %s -> %s", workerID, instruction, f.result), nil
}

func newRuntime(t *testing.T) (*Runtime, *fakeNested) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	nested := &fakeNested{result: "done"}
	rt := NewRuntime(store, NewTaskLog(dir), events.NewBus(32), Options{})
	rt.SetNested(nested)
	return rt, nested
}

func TestDispatchCoreAgent(t *testing.T) {
	rt, nested := newRuntime(t)

	task, err := rt.Dispatch(context.Background(), DefaultWorkerID, "count the pods", "", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if task.Status != TaskDone || nested.calls != 1 {
		t.Errorf("task = %+v, calls = %d", task, nested.calls)
	}
	if !strings.HasPrefix(task.TaskID, "wt-") {
		t.Errorf("task id = %q", task.TaskID)
	}
	if task.Source != SourceManagerDispatch {
		t.Errorf("source = %q", task.Source)
	}

	rec, _ := rt.Store().Get(DefaultWorkerID)
	if rec.Status != StatusIdle || rec.LastTaskID != task.TaskID {
		t.Errorf("rec = %+v", rec)
	}

	stored, err := rt.Log().Get(task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != TaskDone || stored.StartedAt == nil || stored.EndedAt == nil {
		t.Errorf("stored = %+v", stored)
	}
}

type slowNested struct{ d time.Duration }

func (s *slowNested) RunWorkerTask(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(s.d):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "finished", nil
}

func TestCoreAgentRelaysProgress(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus(32)
	rt := NewRuntime(store, NewTaskLog(dir), bus, Options{ProgressEvery: 20 * time.Millisecond})
	rt.SetNested(&slowNested{d: 150 * time.Millisecond})

	ch, stop := bus.SubscribeChan(16, events.EventWorkerProgress)
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := rt.Dispatch(context.Background(), DefaultWorkerID, "long haul", "", nil)
		done <- err
	}()

	select {
	case ev := <-ch:
		p, ok := events.GetWorkerProgressPayload(ev)
		if !ok || p.WorkerID != DefaultWorkerID || p.Status != string(TaskRunning) {
			t.Errorf("progress payload = %+v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no progress relayed during the nested run")
	}

	if err := <-done; err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestDispatchFailureFreesSlot(t *testing.T) {
	rt, nested := newRuntime(t)
	nested.err = errors.New("nested loop exploded")

	task, err := rt.Dispatch(context.Background(), DefaultWorkerID, "do a thing", "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if task == nil || task.Status != TaskFailed || task.Error == "" {
		t.Errorf("task = %+v", task)
	}

	rec, _ := rt.Store().Get(DefaultWorkerID)
	if rec.Status != StatusError {
		t.Errorf("status = %s", rec.Status)
	}

	// The error slot still accepts no dispatch until marked idle.
	if _, err := rt.Dispatch(context.Background(), DefaultWorkerID, "again", "", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

func TestDispatchShellBackend(t *testing.T) {
	rt, _ := newRuntime(t)
	rec, err := rt.Store().Create("runner", BackendShell, []string{"shell"})
	if err != nil {
		t.Fatal(err)
	}

	task, err := rt.Dispatch(context.Background(), rec.WorkerID, "pwd", "", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if task.Status != TaskDone || !strings.Contains(task.ResultSummary, rec.WorkerID) {
		t.Errorf("task = %+v", task)
	}
}

func TestDispatchShellDeniesOffListCommand(t *testing.T) {
	rt, _ := newRuntime(t)
	rec, err := rt.Store().Create("runner", BackendShell, []string{"shell"})
	if err != nil {
		t.Fatal(err)
	}

	task, err := rt.Dispatch(context.Background(), rec.WorkerID, "rm -rf /", "", nil)
	if err == nil {
		t.Fatal("allow-list breach dispatched")
	}
	if task.Status != TaskFailed || !strings.Contains(task.Error, "policy_blocked") {
		t.Errorf("task = %+v", task)
	}
}

func TestDispatchRejectsOffline(t *testing.T) {
	rt, _ := newRuntime(t)
	rt.Store().SetStatus(DefaultWorkerID, StatusOffline)

	if _, err := rt.Dispatch(context.Background(), DefaultWorkerID, "x", "", nil); err == nil {
		t.Fatal("offline worker accepted dispatch")
	}
}

func TestTaskLogUpdateAudits(t *testing.T) {
	dir := t.TempDir()
	log := NewTaskLog(dir)

	task := NewTask("w1", "", "inspect the cluster")
	if err := log.Append(task); err != nil {
		t.Fatal(err)
	}

	updated, err := log.Update(task.TaskID, func(t *Task) {
		t.Status = TaskRunning
	})
	if err != nil {
		t.Fatal(err)
	}

	var statusEvents int
	for _, ev := range updated.Events {
		if ev.Kind == "status" {
			statusEvents++
		}
	}
	if statusEvents != 1 {
		t.Errorf("events = %+v", updated.Events)
	}

	if _, err := log.Update("wt-0-missing", func(*Task) {}); err == nil {
		t.Error("update of unknown task succeeded")
	}
}

func TestTaskLogEventCap(t *testing.T) {
	dir := t.TempDir()
	log := NewTaskLog(dir)

	task := NewTask("w1", "", "busy work")
	if err := log.Append(task); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 60; i++ {
		if _, err := log.Update(task.TaskID, func(t *Task) {
			t.appendEvent("progress", fmt.Sprintf("tick %d", i))
		}); err != nil {
			t.Fatal(err)
		}
	}

	stored, err := log.Get(task.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Events) > maxTaskEvents {
		t.Errorf("events = %d, cap is %d", len(stored.Events), maxTaskEvents)
	}
}
