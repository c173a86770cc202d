package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Vault manages per-worker credential files under
// DATA_DIR/credentials/workers/<worker_id>/.env. Values are stored as
// ENC[age:...] blobs and handed to external CLI backends decrypted.
type Vault struct {
	dataDir  string
	identity *age.X25519Identity
}

// OpenVault loads (creating on first use) the age identity for dataDir.
func OpenVault(dataDir string) (*Vault, error) {
	keyPath := KeyPath(dataDir)
	if err := GenerateIdentity(keyPath); err != nil {
		return nil, err
	}
	identity, err := LoadIdentity(keyPath)
	if err != nil {
		return nil, err
	}
	return &Vault{dataDir: dataDir, identity: identity}, nil
}

// WorkerEnvPath returns the credential file for one worker.
func (v *Vault) WorkerEnvPath(workerID string) string {
	return filepath.Join(v.dataDir, "credentials", "workers", workerID, ".env")
}

// Set encrypts value and stores it under key for the worker.
func (v *Vault) Set(workerID, key, value string) error {
	blob, err := Encrypt(value, v.identity.Recipient())
	if err != nil {
		return err
	}
	path := v.WorkerEnvPath(workerID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	return SetEntry(path, key, blob)
}

// Env returns the worker's credentials as KEY=VALUE pairs with every
// encrypted value decrypted. A worker without credentials gets nil.
func (v *Vault) Env(workerID string) []string {
	entries, err := Entries(v.WorkerEnvPath(workerID))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("worker credentials unreadable", "worker", workerID, "error", err)
		}
		return nil
	}

	var env []string
	for _, e := range entries {
		value := e.Value
		if IsEncrypted(value) {
			plain, err := Decrypt(value, v.identity)
			if err != nil {
				slog.Warn("worker credential undecryptable", "worker", workerID, "key", e.Key, "error", err)
				continue
			}
			value = plain
		}
		env = append(env, e.Key+"="+value)
	}
	return env
}

// SetEntry writes or replaces one KEY=VALUE line in a dotenv file,
// preserving comments, ordering, and blank lines around it.
func SetEntry(path, key, value string) error {
	lines, err := readLines(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read dotenv: %w", err)
	}

	newLine := key + "=" + quoteValue(value)
	found := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		k, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == key {
			lines[i] = newLine
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, newLine)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	return lines, nil
}

func quoteValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// Entry is one KEY=VALUE pair from a dotenv file.
type Entry struct {
	Key   string
	Value string
}

// Entries parses a dotenv file, skipping comments and malformed lines.
func Entries(path string) ([]Entry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		k, val, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		out = append(out, Entry{Key: strings.TrimSpace(k), Value: unquoteValue(strings.TrimSpace(val))})
	}
	return out, nil
}

func unquoteValue(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		inner := v[1 : len(v)-1]
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		inner = strings.ReplaceAll(inner, `\\`, `\`)
		return inner
	}
	return v
}
