package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// EditTool is the edit primitive: ordered exact-string replacements with an
// ambiguity guard.
type EditTool struct{}

func (EditTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "edit",
		Desc: "Apply ordered exact-text replacements to a file. An edit matching more than once fails unless count states the expected occurrences.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"path": {
				Type:     schema.String,
				Desc:     "File path, relative to the workspace",
				Required: true,
			},
			"edits": {
				Type:     schema.Array,
				Desc:     "Replacements applied in order",
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"match": {
							Type:     schema.String,
							Desc:     "Exact text to find",
							Required: true,
						},
						"replace": {
							Type:     schema.String,
							Desc:     "Replacement text",
							Required: true,
						},
						"count": {
							Type: schema.Integer,
							Desc: "Expected number of occurrences; all are replaced",
						},
					},
				},
			},
			"dry_run": {
				Type: schema.Boolean,
				Desc: "Validate without writing",
			},
		}),
	}, nil
}

type editSpec struct {
	Match   string `json:"match"`
	Replace string `json:"replace"`
	Count   int    `json:"count"`
}

type editArgs struct {
	Path   string     `json:"path"`
	Edits  []editSpec `json:"edits"`
	DryRun bool       `json:"dry_run"`
}

func (EditTool) Invoke(_ context.Context, caller Caller, argsJSON string) Response {
	var args editArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Fail(CodeInvalidArgs, err.Error())
	}
	if len(args.Edits) == 0 {
		return Fail(CodeInvalidArgs, "edits is empty")
	}

	sb := sandboxFor(caller)
	abs, resp := sb.ResolveWrite(args.Path)
	if !resp.OK {
		return resp
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(CodeNotFound, fmt.Sprintf("%s does not exist", args.Path))
		}
		return Fail(CodeReadFailed, err.Error())
	}

	content := string(data)
	replaced := 0
	for i, edit := range args.Edits {
		if edit.Match == "" {
			return Fail(CodeInvalidArgs, fmt.Sprintf("edit %d has empty match", i))
		}
		occurrences := strings.Count(content, edit.Match)
		switch {
		case occurrences == 0:
			return Fail(CodeEditNotFound, fmt.Sprintf("edit %d: match not found", i))
		case edit.Count > 0 && occurrences != edit.Count:
			return Fail(CodeAmbiguousMatch, fmt.Sprintf("edit %d: expected %d occurrences, found %d", i, edit.Count, occurrences))
		case edit.Count == 0 && occurrences > 1:
			return Fail(CodeAmbiguousMatch, fmt.Sprintf("edit %d: match occurs %d times, set count to replace all", i, occurrences))
		}
		content = strings.ReplaceAll(content, edit.Match, edit.Replace)
		replaced += occurrences
	}

	if !args.DryRun {
		tmp := abs + ".tmp"
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			return Fail(CodeWriteFailed, err.Error())
		}
		if err := os.Rename(tmp, abs); err != nil {
			return Fail(CodeWriteFailed, err.Error())
		}
	}

	return OK(fmt.Sprintf("applied %d edits (%d replacements) to %s", len(args.Edits), replaced, args.Path), map[string]any{
		"path":          args.Path,
		"edits_applied": len(args.Edits),
		"replacements":  replaced,
		"dry_run":       args.DryRun,
	})
}
