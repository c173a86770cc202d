package tools

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
)

type stubTool struct {
	name   string
	called *int
}

func (s stubTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: s.name, Desc: "stub"}, nil
}

func (s stubTool) Invoke(_ context.Context, _ Caller, _ string) Response {
	if s.called != nil {
		*s.called++
	}
	return OK("done", nil)
}

func TestDispatchChecksAccessFirst(t *testing.T) {
	reg := NewRegistry(newAccess(t))
	w := WorkerCaller("worker-main", "/tmp/ws", true)

	// dispatch_worker is denied to workers and not registered: the denial
	// must win over the unknown-tool error, so names stay hidden.
	resp := reg.Dispatch(context.Background(), w, "dispatch_worker", "{}")
	if resp.OK || resp.ErrorCode != CodeUnauthorized {
		t.Fatalf("resp = %+v, want unauthorized", resp)
	}

	resp = reg.Dispatch(context.Background(), ManagerCaller("u", "/tmp"), "no_such_tool", "{}")
	if resp.OK || resp.ErrorCode != CodeUnknownTool {
		t.Fatalf("resp = %+v, want unknown_tool", resp)
	}
}

func TestDispatchInvokesTool(t *testing.T) {
	reg := NewRegistry(newAccess(t))
	calls := 0
	reg.Register("bash", stubTool{name: "bash", called: &calls})

	resp := reg.Dispatch(context.Background(), ManagerCaller("u", "/tmp"), "bash", "{}")
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestDeclarationsFilteredPerCaller(t *testing.T) {
	reg := NewRegistry(newAccess(t))
	for _, name := range []string{"read", "bash", "dispatch_worker", "read_graph"} {
		reg.Register(name, stubTool{name: name})
	}

	mgr, err := reg.Declarations(context.Background(), ManagerCaller("u", "/tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(mgr) != 4 {
		t.Errorf("manager sees %d tools, want 4", len(mgr))
	}

	worker, err := reg.Declarations(context.Background(), WorkerCaller("worker-main", "/tmp", true))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, info := range worker {
		names[info.Name] = true
	}
	if !names["read"] || !names["bash"] {
		t.Errorf("worker missing primitives: %v", names)
	}
	if names["dispatch_worker"] || names["read_graph"] {
		t.Errorf("worker sees gated tools: %v", names)
	}
}

func TestRegisterReplacePreservesOrder(t *testing.T) {
	reg := NewRegistry(newAccess(t))
	reg.Register("read", stubTool{name: "read"})
	reg.Register("bash", stubTool{name: "bash"})
	reg.Register("read", stubTool{name: "read"})

	infos, err := reg.Declarations(context.Background(), ManagerCaller("u", "/tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Name != "read" || infos[1].Name != "bash" {
		t.Errorf("order = %v", infos)
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	reg := NewRegistry(newAccess(t))
	reg.Register("ext_weather", stubTool{name: "ext_weather"})
	reg.Unregister("ext_weather")

	if _, ok := reg.Get("ext_weather"); ok {
		t.Error("tool still registered")
	}
	resp := reg.Dispatch(context.Background(), ManagerCaller("u", "/tmp"), "ext_weather", "{}")
	if resp.OK || resp.ErrorCode != CodeUnknownTool {
		t.Errorf("resp = %+v", resp)
	}
}
