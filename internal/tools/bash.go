package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"mvdan.cc/sh/v3/syntax"
)

const (
	defaultBashTimeout = 60 * time.Second
	maxBashTimeout     = 300 * time.Second
	maxBashOutput      = 64 * 1024
)

// workerShellAllowed is the command allow-list for workers with shell:true.
// The manager bash scope is unrestricted apart from the sensitive-file deny.
var workerShellAllowed = map[string]bool{
	"docker":  true,
	"curl":    true,
	"netstat": true,
	"ss":      true,
	"grep":    true,
	"cat":     true,
	"ls":      true,
	"pwd":     true,
	"sed":     true,
	"awk":     true,
	"head":    true,
	"tail":    true,
}

// BashTool is the bash primitive: /bin/sh -c with output capture and
// per-caller command policy.
type BashTool struct{}

func (BashTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "bash",
		Desc: "Run a shell command in the workspace. Output is truncated at 64 KB.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"command": {
				Type:     schema.String,
				Desc:     "Command executed via /bin/sh -c",
				Required: true,
			},
			"cwd": {
				Type: schema.String,
				Desc: "Working directory, relative to the workspace",
			},
			"timeout_sec": {
				Type: schema.Integer,
				Desc: "Timeout in seconds, max 300",
			},
		}),
	}, nil
}

type bashArgs struct {
	Command    string `json:"command"`
	Cwd        string `json:"cwd"`
	TimeoutSec int    `json:"timeout_sec"`
}

func (BashTool) Invoke(ctx context.Context, caller Caller, argsJSON string) Response {
	var args bashArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Fail(CodeInvalidArgs, err.Error())
	}
	if strings.TrimSpace(args.Command) == "" {
		return Fail(CodeInvalidArgs, "empty command")
	}

	if resp := checkCommandPolicy(caller, args.Command); !resp.OK {
		return resp
	}

	cwd := caller.Workspace
	if args.Cwd != "" {
		sb := NewSandbox(caller.Workspace)
		abs, err := sb.Resolve(args.Cwd)
		if err != nil {
			return Fail(CodePathDenied, err.Error())
		}
		cwd = abs
	}

	timeout := defaultBashTimeout
	if args.TimeoutSec > 0 {
		timeout = time.Duration(args.TimeoutSec) * time.Second
		if timeout > maxBashTimeout {
			timeout = maxBashTimeout
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n[stderr]\n" + stderr.String()
	}
	if len(output) > maxBashOutput {
		output = output[:maxBashOutput] + "\n...[truncated]"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return FailData(CodeTimeout, fmt.Sprintf("command timed out after %s", timeout), map[string]any{
			"output": output,
		})
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return FailData(CodeCommandFailed, fmt.Sprintf("exit code %d", exitErr.ExitCode()), map[string]any{
				"exit_code": exitErr.ExitCode(),
				"output":    output,
			})
		}
		return Fail(CodeExecFailed, err.Error())
	}

	return OK("command succeeded", map[string]any{
		"exit_code": 0,
		"output":    output,
	})
}

// checkCommandPolicy enforces the sensitive-file deny for everyone and the
// command allow-list for workers.
func checkCommandPolicy(caller Caller, command string) Response {
	words, parseErr := commandWords(command)

	for _, w := range words {
		if SensitivePath(w) {
			return Fail(CodePolicyBlocked, fmt.Sprintf("command touches sensitive file %q", w))
		}
	}

	if caller.Role != RoleWorker {
		return Response{OK: true}
	}
	if !caller.Shell {
		return Fail(CodePolicyBlocked, "worker has no shell capability")
	}
	if parseErr != nil {
		return Fail(CodePolicyBlocked, fmt.Sprintf("command could not be parsed: %v", parseErr))
	}

	names, err := commandNames(command)
	if err != nil {
		return Fail(CodePolicyBlocked, err.Error())
	}
	for _, name := range names {
		if !workerShellAllowed[name] {
			return Fail(CodePolicyBlocked, fmt.Sprintf("command %q is not on the worker allow-list", name))
		}
	}
	return Response{OK: true}
}

// commandWords collects every literal word of the command. Falls back to
// whitespace splitting when the shell grammar rejects the input, so the
// sensitive-file deny still sees the tokens.
func commandWords(command string) ([]string, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return strings.Fields(command), err
	}

	var words []string
	syntax.Walk(file, func(node syntax.Node) bool {
		if w, ok := node.(*syntax.Word); ok {
			if lit := w.Lit(); lit != "" {
				words = append(words, lit)
			}
		}
		return true
	})
	return words, nil
}

// commandNames extracts the command name of every call expression, including
// those behind pipes, &&, and subshells.
func commandNames(command string) ([]string, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var names []string
	var opaque error
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		name := call.Args[0].Lit()
		if name == "" {
			opaque = fmt.Errorf("command name is not a literal")
			return false
		}
		names = append(names, name)
		return true
	})
	if opaque != nil {
		return nil, opaque
	}
	return names, nil
}
