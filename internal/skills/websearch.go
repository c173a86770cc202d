package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"

	"github.com/xbot-ai/xbot/internal/config"
)

// NewWebSearchSkill builds the native web_search skill over the configured
// provider. Returns the descriptor and runner to register.
func NewWebSearchSkill(ctx context.Context, cfg config.WebSearchConfig) (*Descriptor, NativeRunner, error) {
	inner, err := newSearchBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	d := &Descriptor{
		Name:        "web_search",
		APIVersion:  APIVersion,
		Description: "Search the web. Returns titles, URLs, and summaries.",
		Triggers:    []string{"search", "look up", "find online"},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query",
				},
			},
			"required": []any{"query"},
		},
		Permissions: Permissions{Network: "limited"},
	}

	run := func(ctx context.Context, args map[string]any) (*NativeResult, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("query is required")
		}
		req, err := json.Marshal(map[string]string{"query": query})
		if err != nil {
			return nil, err
		}
		out, err := inner.InvokableRun(ctx, string(req))
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		return &NativeResult{Value: out}, nil
	}

	return d, run, nil
}

func newSearchBackend(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	switch cfg.Provider {
	case "", "duckduckgo":
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   "web_search",
			ToolDesc:   "Search the web using DuckDuckGo.",
			MaxResults: maxResults,
		})
	case "google":
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleCX,
			Num:            maxResults,
			ToolName:       "web_search",
			ToolDesc:       "Search the web using Google.",
		})
	case "bing":
		return bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: maxResults,
			ToolName:   "web_search",
			ToolDesc:   "Search the web using Bing.",
		})
	default:
		return nil, fmt.Errorf("web_search: unknown provider %q", cfg.Provider)
	}
}
