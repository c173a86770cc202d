// Package mcp exposes xbot's tool surface over the Model Context Protocol
// so external agents can reach the memory graph and primitives through a
// stdio transport.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xbot-ai/xbot/internal/tools"
)

// NewServer builds an MCP server over the registry, filtered by the
// caller's access profile. A non-empty filter narrows the surface to one
// tool name or one group token (e.g. "group:memory").
func NewServer(registry *tools.Registry, caller tools.Caller, filter string) (*mcpsdk.Server, error) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "xbot",
		Version: "1.0.0",
	}, nil)

	infos, err := registry.Declarations(context.Background(), caller)
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		if filter != "" && !matchesFilter(info.Name, filter) {
			continue
		}
		t, ok := registry.Get(info.Name)
		if !ok {
			continue
		}

		name := info.Name
		tool := t
		server.AddTool(toMCPTool(info), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			resp := tool.Invoke(ctx, caller, string(req.Params.Arguments))
			if !resp.OK {
				slog.Debug("mcp tool failed", "tool", name, "code", resp.ErrorCode)
			}
			return &mcpsdk.CallToolResult{
				IsError: !resp.OK,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: resp.JSON()}},
			}, nil
		})
		slog.Debug("mcp tool registered", "tool", name)
	}

	return server, nil
}

// matchesFilter accepts an exact tool name or a group token the tool
// belongs to.
func matchesFilter(toolName, filter string) bool {
	return toolName == filter || tools.InGroup(toolName, filter)
}
