package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/secrets"
)

// NewWakeCommand returns the onboarding subcommand.
func NewWakeCommand() *cli.Command {
	return &cli.Command{
		Name:   "wake",
		Usage:  "Initialize the data directory ($DATA_DIR)",
		Action: runWake,
	}
}

func runWake(_ context.Context, _ *cli.Command) error {
	root, err := config.DataDir()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	created := false

	dirs := []string{
		root,
		filepath.Join(root, "inbox"),
		filepath.Join(root, "sessions"),
		filepath.Join(root, "events"),
		filepath.Join(root, "skills"),
		filepath.Join(root, "users"),
		filepath.Join(root, "kernel", "core-manager"),
		filepath.Join(root, "userland", "workers"),
		filepath.Join(root, "credentials", "workers"),
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	configPath := config.ConfigPath(root)
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	dotenvPath := config.DotenvPath(root)
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	keyPath := secrets.KeyPath(root)
	if _, err := os.Stat(keyPath); err != nil {
		if err := secrets.GenerateIdentity(keyPath); err != nil {
			return fmt.Errorf("generate age key: %w", err)
		}
		fmt.Printf("  Created %s\n", keyPath)
		created = true
	}

	if !created {
		fmt.Printf("Already awake — %s is complete. Nothing to do.\n", root)
		return nil
	}

	fmt.Println(wakeMessage(root))
	return nil
}

const defaultConfig = `{
	// xbot configuration
	// Everything here can also be set through the environment; env wins.

	"gateway": {
		"host": "127.0.0.1",
		"port": 18900
	},

	"models": {
		"default": "claude",
		"fast": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": {
					"api_key": "${ANTHROPIC_API_KEY}"
				},
				"max_tokens": 4096
			}

			// Local model via Ollama (no auth required)
			// "local": {
			// 	"driver": "ollama",
			// 	"model": "llama3.1:8b",
			// 	"base_url": "http://localhost:11434",
			// 	"max_tokens": 4096
			// }
		}
	},

	"agent": {
		"max_turns": 12,
		"task_timeout": "600s"
	},

	"heartbeat": {
		"default_every": "30m",
		"suppress_ok": true
	},

	"memory": {
		"enabled": false
	}
}
`

const defaultDotenv = `# xbot environment variables
# Loaded at process start; existing env vars are never overridden.

# ANTHROPIC_API_KEY=sk-ant-...
# OPENAI_API_KEY=sk-...
`

func wakeMessage(root string) string {
	return fmt.Sprintf(`
  Data directory ready at %s
  Inbox, sessions, skills, kernel — all in there.

  Next steps:
    1. Drop your API key in %s/.env
    2. Tweak %s/config.jsonc if you feel like it
    3. Run: xbot serve
`, root, root, root)
}
