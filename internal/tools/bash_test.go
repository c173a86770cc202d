package tools

import (
	"context"
	"strings"
	"testing"
)

func TestBashCapturesOutput(t *testing.T) {
	caller := managerIn(t)

	resp := BashTool{}.Invoke(context.Background(), caller, `{"command":"echo hello"}`)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if out := resp.Data["output"].(string); !strings.Contains(out, "hello") {
		t.Errorf("output = %q", out)
	}
	if resp.Data["exit_code"].(int) != 0 {
		t.Errorf("exit_code = %v", resp.Data["exit_code"])
	}
}

func TestBashReportsExitCode(t *testing.T) {
	caller := managerIn(t)

	resp := BashTool{}.Invoke(context.Background(), caller, `{"command":"echo partial; exit 3"}`)
	if resp.OK || resp.ErrorCode != CodeCommandFailed {
		t.Fatalf("resp = %+v, want command_failed", resp)
	}
	if resp.Data["exit_code"].(int) != 3 {
		t.Errorf("exit_code = %v", resp.Data["exit_code"])
	}
	if out := resp.Data["output"].(string); !strings.Contains(out, "partial") {
		t.Errorf("output before the failure lost: %q", out)
	}
}

func TestBashMarksStderr(t *testing.T) {
	caller := managerIn(t)

	resp := BashTool{}.Invoke(context.Background(), caller, `{"command":"echo out; echo err >&2"}`)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	out := resp.Data["output"].(string)
	if !strings.Contains(out, "[stderr]") || !strings.Contains(out, "err") {
		t.Errorf("output = %q", out)
	}
}

func TestBashTimeout(t *testing.T) {
	caller := managerIn(t)

	resp := BashTool{}.Invoke(context.Background(), caller, `{"command":"sleep 5","timeout_sec":1}`)
	if resp.OK || resp.ErrorCode != CodeTimeout {
		t.Fatalf("resp = %+v, want timeout", resp)
	}
}

func TestBashSensitiveFileDeny(t *testing.T) {
	caller := managerIn(t)

	resp := BashTool{}.Invoke(context.Background(), caller, `{"command":"cat .env"}`)
	if resp.OK || resp.ErrorCode != CodePolicyBlocked {
		t.Fatalf("resp = %+v, want policy_blocked", resp)
	}
}

func TestWorkerAllowList(t *testing.T) {
	ws := t.TempDir()
	shell := WorkerCaller("worker-main", ws, true)
	noShell := WorkerCaller("worker-main", ws, false)

	cases := []struct {
		name    string
		caller  Caller
		command string
		ok      bool
	}{
		{"allowed single", shell, "ls", true},
		{"allowed pipe", shell, "cat notes.txt | grep todo", true},
		{"allowed chain", shell, "pwd && ls", true},
		{"denied command", shell, "rm -rf /tmp/x", false},
		{"denied in pipe", shell, "cat notes.txt | python3 run.py", false},
		{"no shell capability", noShell, "ls", false},
		{"unparsable", shell, "ls $(", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := checkCommandPolicy(tc.caller, tc.command)
			if resp.OK != tc.ok {
				t.Errorf("checkCommandPolicy(%q) = %+v, want ok=%v", tc.command, resp, tc.ok)
			}
			if !tc.ok && resp.ErrorCode != CodePolicyBlocked {
				t.Errorf("error_code = %q", resp.ErrorCode)
			}
		})
	}
}

func TestBashCwdStaysInWorkspace(t *testing.T) {
	caller := managerIn(t)

	resp := BashTool{}.Invoke(context.Background(), caller, `{"command":"pwd","cwd":"../.."}`)
	if resp.OK || resp.ErrorCode != CodePathDenied {
		t.Fatalf("resp = %+v, want path_denied", resp)
	}
}
