package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/tools"
)

// RunExtensionTool exposes the executor as the run_extension tool.
type RunExtensionTool struct {
	Exec *Executor
}

func (t RunExtensionTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "run_extension",
		Desc: "Run an installed extension by name. Use list_extensions to discover names and their argument schemas.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"skill_name": {
				Type:     schema.String,
				Desc:     "Extension name",
				Required: true,
			},
			"args": {
				Type: schema.Object,
				Desc: "Arguments matching the extension's input schema",
			},
		}),
	}, nil
}

type runExtensionArgs struct {
	SkillName string          `json:"skill_name"`
	Args      json.RawMessage `json:"args"`
}

func (t RunExtensionTool) Invoke(ctx context.Context, caller tools.Caller, argsJSON string) tools.Response {
	var args runExtensionArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return tools.Fail(tools.CodeInvalidArgs, err.Error())
	}
	if args.SkillName == "" {
		return tools.Fail(tools.CodeInvalidArgs, "skill_name is required")
	}

	res := t.Exec.Run(ctx, caller.Workspace, args.SkillName, args.Args)

	data := map[string]any{
		"skill_name": res.SkillName,
		"result":     res.Result,
	}
	if res.UI != nil {
		data["ui"] = res.UI
	}
	if len(res.Files) > 0 {
		data["files"] = res.Files
	}

	if !res.OK {
		return tools.FailData(res.ErrorCode, res.Message, data)
	}
	return tools.OK(fmt.Sprintf("extension %s succeeded", res.SkillName), data)
}

// ListExtensionsTool reports the installed extensions with their schemas.
type ListExtensionsTool struct {
	Registry *Registry
}

func (t ListExtensionsTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "list_extensions",
		Desc: "List installed extensions with descriptions and input schemas.",
	}, nil
}

func (t ListExtensionsTool) Invoke(_ context.Context, _ tools.Caller, _ string) tools.Response {
	descriptors := t.Registry.List()

	items := make([]map[string]any, 0, len(descriptors))
	for _, d := range descriptors {
		item := map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"kind":        string(d.Kind),
		}
		if len(d.Triggers) > 0 {
			item["triggers"] = d.Triggers
		}
		if len(d.InputSchema) > 0 {
			item["input_schema"] = d.InputSchema
		}
		items = append(items, item)
	}

	return tools.OK(fmt.Sprintf("%d extensions installed", len(items)), map[string]any{
		"extensions": items,
	})
}
