package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const defaultReadMaxLines = 2000

// ReadTool is the read primitive: file content within the caller workspace,
// returned with line numbers so follow-up edits can anchor precisely.
type ReadTool struct{}

func (ReadTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "read",
		Desc: "Read a file from the workspace. Returns numbered lines.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {
				Type:     schema.String,
				Desc:     "File path, relative to the workspace",
				Required: true,
			},
			"start_line": {
				Type: schema.Integer,
				Desc: "First line to return (1-based, default 1)",
			},
			"max_lines": {
				Type: schema.Integer,
				Desc: "Maximum number of lines to return",
			},
		}),
	}, nil
}

type readArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	MaxLines  int    `json:"max_lines"`
	Encoding  string `json:"encoding"`
}

func (ReadTool) Invoke(_ context.Context, caller Caller, argsJSON string) Response {
	var args readArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Fail(CodeInvalidArgs, err.Error())
	}
	if args.Encoding != "" && !strings.EqualFold(args.Encoding, "utf-8") {
		return Fail(CodeInvalidArgs, fmt.Sprintf("unsupported encoding %q", args.Encoding))
	}

	sb := NewSandbox(caller.Workspace)
	abs, resp := sb.ResolveRead(args.Path)
	if !resp.OK {
		return resp
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(CodeNotFound, fmt.Sprintf("%s does not exist", args.Path))
		}
		return Fail(CodeReadFailed, err.Error())
	}
	if info.IsDir() {
		return Fail(CodeIsDirectory, fmt.Sprintf("%s is a directory", args.Path))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Fail(CodeReadFailed, err.Error())
	}
	if !utf8.Valid(data) {
		return Fail(CodeDecodeError, fmt.Sprintf("%s is not valid utf-8", args.Path))
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	total := len(lines)

	start := args.StartLine
	if start < 1 {
		start = 1
	}
	if start > total {
		return Fail(CodeInvalidArgs, fmt.Sprintf("start_line %d past end of file (%d lines)", start, total))
	}

	maxLines := args.MaxLines
	if maxLines <= 0 || maxLines > defaultReadMaxLines {
		maxLines = defaultReadMaxLines
	}

	end := start - 1 + maxLines
	if end > total {
		end = total
	}

	var b strings.Builder
	for i := start - 1; i < end; i++ {
		fmt.Fprintf(&b, "%5d: %s\n", i+1, lines[i])
	}

	return OK(fmt.Sprintf("read %s lines %d-%d of %d", args.Path, start, end, total), map[string]any{
		"path":       args.Path,
		"content":    b.String(),
		"line_count": total,
		"truncated":  end < total,
	})
}
