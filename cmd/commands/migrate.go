package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/state"
)

// NewMigrateStateCommand returns the migrate-state subcommand. It walks the
// state tree, reports files still in a legacy variant, and with --apply
// rewrites them canonically. Unparsable files are moved aside as backups.
func NewMigrateStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate-state",
		Usage: "Rewrite legacy state files into the canonical format",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "apply",
				Usage: "Rewrite files (default is a dry run)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report only, change nothing",
			},
		},
		Action: runMigrateState,
	}
}

func runMigrateState(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("apply") && cmd.Bool("dry-run") {
		return cli.Exit("--apply and --dry-run are mutually exclusive", exitUserError)
	}
	apply := cmd.Bool("apply")

	dataDir, err := config.DataDir()
	if err != nil {
		return cli.Exit(err.Error(), exitUserError)
	}

	// Only the protocol trees. SOUL files and skills are markdown prose and
	// must never run through the state codec.
	roots := []string{
		filepath.Join(dataDir, "users"),
		filepath.Join(dataDir, "system"),
	}

	var canonical, migrated, corrupt int
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			payload, kind, decodeErr := state.Decode(data)
			switch {
			case decodeErr != nil:
				corrupt++
				if apply {
					backup := path + ".corrupt-" + time.Now().Format("20060102-150405")
					if err := os.Rename(path, backup); err != nil {
						return fmt.Errorf("backup %s: %w", path, err)
					}
					fmt.Printf("  CORRUPT  %s → moved to %s\n", path, backup)
				} else {
					fmt.Printf("  CORRUPT  %s: %v\n", path, decodeErr)
				}

			case kind == state.SourceCanonical:
				canonical++

			default:
				migrated++
				if apply {
					out, err := state.Encode(payload)
					if err != nil {
						return fmt.Errorf("encode %s: %w", path, err)
					}
					if err := writeAtomic(path, out); err != nil {
						return fmt.Errorf("rewrite %s: %w", path, err)
					}
					fmt.Printf("  REWROTE  %s (%s)\n", path, kind)
				} else {
					fmt.Printf("  LEGACY   %s (%s)\n", path, kind)
				}
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	verb := "need migration"
	if apply {
		verb = "rewritten"
	}
	fmt.Printf("\n%d canonical, %d %s, %d corrupt\n", canonical, migrated, verb, corrupt)

	if corrupt > 0 {
		return cli.Exit("state corruption found; review the files above", exitStateCorrupt)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
