package mcp

import (
	"encoding/json"

	"github.com/cloudwego/eino/schema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// toMCPTool renders an eino tool declaration as an MCP tool with a JSON
// Schema input. Tools without parameters get an empty object schema.
func toMCPTool(info *schema.ToolInfo) *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        info.Name,
		Description: info.Desc,
		InputSchema: inputSchema(info),
	}
}

func inputSchema(info *schema.ToolInfo) map[string]any {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}
	if info.ParamsOneOf == nil {
		return empty
	}

	js, err := info.ParamsOneOf.ToJSONSchema()
	if err != nil || js == nil {
		return empty
	}

	data, err := json.Marshal(js)
	if err != nil {
		return empty
	}
	var out map[string]any
	if json.Unmarshal(data, &out) != nil {
		return empty
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
