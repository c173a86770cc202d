package workers

import (
	"context"
	"strings"
	"testing"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/tools"
)

func TestListWorkersTool(t *testing.T) {
	rt, _ := newRuntime(t)
	rt.Store().Create("scout", BackendCodex, []string{"research"})

	resp := ListWorkersTool{Store: rt.Store()}.Invoke(context.Background(), tools.ManagerCaller("u", "/tmp"), "{}")
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	items := resp.Data["workers"].([]map[string]any)
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	if items[0]["worker_id"] != "scout" && items[1]["worker_id"] != "scout" {
		t.Errorf("scout missing: %v", items)
	}
}

func TestDispatchWorkerToolByCapability(t *testing.T) {
	rt, nested := newRuntime(t)
	nested.result = "port 20015 is free"

	tl := DispatchWorkerTool{Runtime: rt}
	resp := tl.Invoke(context.Background(), tools.ManagerCaller("u", "/tmp"),
		`{"instruction":"find a free port above 20000","capability":"general"}`)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if !strings.Contains(resp.Data["result_summary"].(string), "port 20015") {
		t.Errorf("summary = %v", resp.Data["result_summary"])
	}

	resp = tl.Invoke(context.Background(), tools.ManagerCaller("u", "/tmp"),
		`{"instruction":"x","capability":"nonexistent"}`)
	if resp.OK || resp.ErrorCode != "worker_unavailable" {
		t.Errorf("resp = %+v", resp)
	}

	resp = tl.Invoke(context.Background(), tools.ManagerCaller("u", "/tmp"), `{"capability":"general"}`)
	if resp.OK || resp.ErrorCode != tools.CodeInvalidArgs {
		t.Errorf("resp = %+v", resp)
	}
}

func TestDispatchRecordsAssignmentOnEnvelope(t *testing.T) {
	rt, _ := newRuntime(t)
	in, err := inbox.New(t.TempDir(), events.NewBus(16))
	if err != nil {
		t.Fatal(err)
	}
	env, err := in.Submit(inbox.SubmitRequest{
		Source: inbox.SourceUserChat, Goal: "scan the ports", UserID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := events.ContextWithTaskID(context.Background(), env.TaskID)
	tl := DispatchWorkerTool{Runtime: rt, Inbox: in}
	resp := tl.Invoke(ctx, tools.ManagerCaller("u", "/tmp"),
		`{"instruction":"scan the ports","capability":"general"}`)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}

	got, err := in.Get(env.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AssignedWorkerID != DefaultWorkerID {
		t.Errorf("assigned = %q, want %q", got.AssignedWorkerID, DefaultWorkerID)
	}
	if !strings.Contains(got.DispatchReason, "general") {
		t.Errorf("reason = %q", got.DispatchReason)
	}
}

func TestDispatchThreadsMetadata(t *testing.T) {
	rt, _ := newRuntime(t)

	tl := DispatchWorkerTool{Runtime: rt}
	resp := tl.Invoke(context.Background(), tools.ManagerCaller("u", "/tmp"),
		`{"instruction":"tag this run","worker_id":"worker-main","metadata":{"ticket":"OPS-42"}}`)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}

	taskID, _ := resp.Data["worker_task_id"].(string)
	stored, err := rt.Log().Get(taskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Metadata["ticket"] != "OPS-42" {
		t.Errorf("metadata = %v", stored.Metadata)
	}
}

func TestWorkerStatusTool(t *testing.T) {
	rt, _ := newRuntime(t)
	if _, err := rt.Dispatch(context.Background(), DefaultWorkerID, "inspect", "", nil); err != nil {
		t.Fatal(err)
	}

	resp := WorkerStatusTool{Store: rt.Store(), Log: rt.Log()}.Invoke(context.Background(),
		tools.ManagerCaller("u", "/tmp"), `{"worker_id":"worker-main"}`)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	recent := resp.Data["recent_tasks"].([]map[string]any)
	if len(recent) != 1 {
		t.Errorf("recent = %v", recent)
	}

	resp = WorkerStatusTool{Store: rt.Store(), Log: rt.Log()}.Invoke(context.Background(),
		tools.ManagerCaller("u", "/tmp"), `{"worker_id":"ghost"}`)
	if resp.OK || resp.ErrorCode != tools.CodeNotFound {
		t.Errorf("resp = %+v", resp)
	}
}
