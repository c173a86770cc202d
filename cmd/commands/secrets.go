package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand. Worker credentials are
// age-encrypted at rest and only decrypted into a worker's process
// environment at dispatch time.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Manage encrypted worker credentials",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Encrypt and store a credential (value prompted when omitted)",
				ArgsUsage: "<worker_id> <KEY> [value]",
				Action:    runSecretsSet,
			},
			{
				Name:      "get",
				Usage:     "Decrypt and print one credential",
				ArgsUsage: "<worker_id> <KEY>",
				Action:    runSecretsGet,
			},
			{
				Name:      "list",
				Usage:     "List credential keys for a worker",
				ArgsUsage: "<worker_id>",
				Action:    runSecretsList,
			},
		},
		DefaultCommand: "list",
	}
}

func openVault() (*secrets.Vault, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return secrets.OpenVault(dataDir)
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	workerID := cmd.Args().Get(0)
	key := cmd.Args().Get(1)
	value := cmd.Args().Get(2)
	if workerID == "" || key == "" {
		return cli.Exit("usage: xbot secrets set <worker_id> <KEY> [value]", exitUserError)
	}

	if value == "" {
		fmt.Fprintf(os.Stderr, "Value for %s: ", key)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimSpace(string(raw))
		if value == "" {
			return cli.Exit("empty value", exitUserError)
		}
	}

	vault, err := openVault()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	if err := vault.Set(workerID, key, value); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	fmt.Printf("Stored %s for worker %s.\n", key, workerID)
	return nil
}

func runSecretsGet(_ context.Context, cmd *cli.Command) error {
	workerID := cmd.Args().Get(0)
	key := cmd.Args().Get(1)
	if workerID == "" || key == "" {
		return cli.Exit("usage: xbot secrets get <worker_id> <KEY>", exitUserError)
	}

	vault, err := openVault()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	for _, kv := range vault.Env(workerID) {
		if name, value, ok := strings.Cut(kv, "="); ok && name == key {
			fmt.Println(value)
			return nil
		}
	}
	return cli.Exit(fmt.Sprintf("no credential %s for worker %s", key, workerID), exitUserError)
}

func runSecretsList(_ context.Context, cmd *cli.Command) error {
	workerID := cmd.Args().First()
	if workerID == "" {
		return cli.Exit("usage: xbot secrets list <worker_id>", exitUserError)
	}

	vault, err := openVault()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}
	entries, err := secrets.Entries(vault.WorkerEnvPath(workerID))
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	if len(entries) == 0 {
		fmt.Printf("No credentials stored for worker %s.\n", workerID)
		return nil
	}
	for _, e := range entries {
		marker := "plain"
		if secrets.IsEncrypted(e.Value) {
			marker = "encrypted"
		}
		fmt.Printf("  %s  (%s)\n", e.Key, marker)
	}
	return nil
}
