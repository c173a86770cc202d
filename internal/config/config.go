// Package config layers the xbot configuration: environment variables carry
// the deployment-level switches, $DATA_DIR/config.jsonc carries structured
// settings, and $DATA_DIR/.env supplies credentials at process start.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the root configuration for the agentic core.
type Config struct {
	DataDir   string          `json:"-"` // resolved from $DATA_DIR, never from file
	Gateway   GatewayConfig   `json:"gateway"`
	Models    ModelsConfig    `json:"models"`
	Events    EventsConfig    `json:"events"`
	Agent     AgentConfig     `json:"agent"`
	Inbox     InboxConfig     `json:"inbox"`
	Workers   WorkersConfig   `json:"workers"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Skills    SkillsConfig    `json:"skills"`
	Memory    MemoryConfig    `json:"memory"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig configures the in-process bus.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// AgentConfig bounds the orchestrator loop.
type AgentConfig struct {
	MaxTurns             int      `json:"max_turns"`    // env MAX_TURNS overrides
	TaskTimeout          Duration `json:"task_timeout"` // env TASK_TIMEOUT overrides
	MaxConcurrent        int      `json:"max_concurrent"`
	DispatchModelRouting *bool    `json:"dispatch_model_routing"` // nil means on
}

// ModelRouting reports whether fast-tier routing for heartbeat/cron tasks is
// enabled. It defaults to on.
func (a AgentConfig) ModelRouting() bool {
	return a.DispatchModelRouting == nil || *a.DispatchModelRouting
}

// InboxConfig configures envelope retention. Terminal envelopes older than
// Retention are swept from disk.
type InboxConfig struct {
	Retention Duration `json:"retention"`
}

// WorkersConfig configures the worker fleet.
type WorkersConfig struct {
	DefaultBackend string   `json:"default_backend"`
	StagingPath    string   `json:"staging_path"` // env X_DEPLOYMENT_STAGING_PATH overrides
	ProgressEvery  Duration `json:"progress_every"`
}

// HeartbeatConfig carries fleet-wide heartbeat defaults; per-user settings
// live in each user's HEARTBEAT.md.
type HeartbeatConfig struct {
	DefaultEvery Duration `json:"default_every"`
	SuppressOK   bool     `json:"suppress_ok"`
}

// SkillsConfig configures skill discovery and the native web_search skill.
type SkillsConfig struct {
	Dirs      []string        `json:"dirs"` // default: [$DATA_DIR/skills]
	WebSearch WebSearchConfig `json:"web_search"`
}

// WebSearchConfig selects the search backend for the builtin web_search
// skill. DuckDuckGo needs no key and is the default.
type WebSearchConfig struct {
	Provider     string `json:"provider"` // "duckduckgo" | "google" | "bing"
	MaxResults   int    `json:"max_results"`
	GoogleAPIKey string `json:"google_api_key"`
	GoogleCX     string `json:"google_cx"`
	BingAPIKey   string `json:"bing_api_key"`
}

// MemoryConfig configures the long-term memory graph.
type MemoryConfig struct {
	Enabled  bool           `json:"enabled"` // env MCP_MEMORY_ENABLED overrides
	Embedder EmbedderConfig `json:"embedder"`
}

// EmbedderConfig selects the embedding driver for memory search.
type EmbedderConfig struct {
	Driver  string `json:"driver"` // "openai" | "ollama" | "" (keyword search only)
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
}

// ModelsConfig holds the provider table and tier assignments.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Fast      string                    `json:"fast"` // tier used for heartbeat/cron when routing is on
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig describes one model provider.
type ProviderConfig struct {
	Driver        string         `json:"driver"` // anthropic | openai | ollama | gemini
	Model         string         `json:"model"`
	BaseURL       string         `json:"base_url"`
	MaxTokens     int            `json:"max_tokens"`
	ContextWindow int            `json:"context_window"`
	Timeout       Duration       `json:"timeout"`
	Auth          AuthConfig     `json:"auth"`
	Options       map[string]any `json:"options"`
}

// AuthConfig carries provider credentials. Values of the form ${VAR} are
// resolved from the environment at model init time.
type AuthConfig struct {
	APIKey string `json:"api_key"`
	Token  string `json:"token"`
}

// Duration is a JSON-friendly wrapper accepting "90s"/"5m" strings or
// integer seconds.
type Duration time.Duration

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalJSON accepts either a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Second)
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be string or seconds, got %T", v)
	}
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
