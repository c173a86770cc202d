// Package storage provides the file-level primitives shared by the stores:
// atomic JSON documents, JSONL logs, advisory file locks, and the bus event
// logger.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteJSONFile atomically writes v as indented JSON using temp + rename,
// creating parent directories as needed.
func WriteJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s tmp: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSONFile unmarshals the JSON document at path into out.
func ReadJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadDirJSON reads every *.json file in dir into type T, keyed by file name
// without extension. Corrupt files are skipped. A missing directory yields an
// empty map.
func LoadDirJSON[T any](dir string) (map[string]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]T{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	out := make(map[string]T, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		var item T
		if err := ReadJSONFile(filepath.Join(dir, name), &item); err != nil {
			continue
		}
		out[strings.TrimSuffix(name, ".json")] = item
	}
	return out, nil
}
