package memory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	einoollama "github.com/cloudwego/eino-ext/components/embedding/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/xbot-ai/xbot/internal/config"
)

// NewEmbedder creates an eino embedder from config. An empty driver means
// search_nodes runs keyword-only; that is a supported mode, not an error.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case "openai":
		return newOpenAIEmbedder(ctx, cfg)
	case "ollama":
		return newOllamaEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding driver %q (supported: openai, ollama)", cfg.Driver)
	}
}

func newOpenAIEmbedder(ctx context.Context, cfg config.EmbedderConfig) (embedding.Embedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedding: OPENAI_API_KEY not set")
	}

	ecfg := &einoopenai.EmbeddingConfig{
		APIKey: apiKey,
		Model:  cfg.Model,
	}
	if ecfg.Model == "" {
		ecfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL != "" {
		ecfg.BaseURL = cfg.BaseURL
	}
	return einoopenai.NewEmbedder(ctx, ecfg)
}

func newOllamaEmbedder(ctx context.Context, cfg config.EmbedderConfig) (embedding.Embedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return einoollama.NewEmbedder(ctx, &einoollama.EmbeddingConfig{
		BaseURL: baseURL,
		Model:   model,
	})
}
