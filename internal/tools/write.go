package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudwego/eino/schema"
)

// WriteTool is the write primitive: atomic file creation or replacement
// inside the caller workspace.
type WriteTool struct{}

func (WriteTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "write",
		Desc: "Write a file in the workspace. mode=create fails if the file exists.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {
				Type:     schema.String,
				Desc:     "File path, relative to the workspace",
				Required: true,
			},
			"content": {
				Type:     schema.String,
				Desc:     "Full file content",
				Required: true,
			},
			"mode": {
				Type: schema.String,
				Desc: "create (default) or overwrite",
				Enum: []string{"create", "overwrite"},
			},
			"create_parents": {
				Type: schema.Boolean,
				Desc: "Create missing parent directories",
			},
		}),
	}, nil
}

type writeArgs struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	Mode          string `json:"mode"`
	CreateParents bool   `json:"create_parents"`
}

func (WriteTool) Invoke(_ context.Context, caller Caller, argsJSON string) Response {
	var args writeArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Fail(CodeInvalidArgs, err.Error())
	}

	mode := args.Mode
	if mode == "" {
		mode = "create"
	}
	if mode != "create" && mode != "overwrite" {
		return Fail(CodeInvalidArgs, fmt.Sprintf("invalid mode %q", mode))
	}

	sb := sandboxFor(caller)
	abs, resp := sb.ResolveWrite(args.Path)
	if !resp.OK {
		return resp
	}

	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return Fail(CodeIsDirectory, fmt.Sprintf("%s is a directory", args.Path))
		}
		if mode == "create" {
			return Fail(CodeExists, fmt.Sprintf("%s already exists", args.Path))
		}
	}

	dir := filepath.Dir(abs)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if !args.CreateParents {
			return Fail(CodeParentMissing, fmt.Sprintf("parent directory of %s does not exist", args.Path))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Fail(CodeWriteFailed, err.Error())
		}
	}

	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, []byte(args.Content), 0o644); err != nil {
		return Fail(CodeWriteFailed, err.Error())
	}
	if err := os.Rename(tmp, abs); err != nil {
		return Fail(CodeWriteFailed, err.Error())
	}

	return OK(fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), map[string]any{
		"path":  args.Path,
		"bytes": len(args.Content),
		"mode":  mode,
	})
}

// sandboxFor builds the caller's file sandbox. Workers get the kernel tree
// write-protected when it happens to sit inside their root; the manager's
// root is the data dir where the kernel tree is theirs to edit.
func sandboxFor(caller Caller) Sandbox {
	if caller.Role == RoleWorker {
		return NewSandbox(caller.Workspace, filepath.Join(caller.Workspace, "kernel"))
	}
	return NewSandbox(caller.Workspace)
}
