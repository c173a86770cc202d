package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func buildPayload(t map[string]string) (*Payload, []string) {
	payload := NewPayload()
	_ = payload.Set("version", 1)
	keys := []string{"version"}
	for k, v := range t {
		if k == "version" {
			continue
		}
		_ = payload.Set(k, v)
		keys = append(keys, k)
	}
	return payload, keys
}

func samePayload(got *Payload, keys []string, fields map[string]string) bool {
	gotKeys := got.Keys()
	if len(gotKeys) != len(keys) {
		return false
	}
	for i := range keys {
		if gotKeys[i] != keys[i] {
			return false
		}
	}
	for k, v := range fields {
		if k == "version" {
			continue
		}
		node, ok := got.Get(k)
		if !ok || node.Value != v {
			return false
		}
	}
	return true
}

func TestStateRoundtripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var seq atomic.Int64

	properties.Property("write then read returns the same payload in the same key order", prop.ForAll(
		func(fields map[string]string) bool {
			payload, keys := buildPayload(fields)
			path := filepath.Join(root, fmt.Sprintf("p%d.md", seq.Add(1)))

			if err := store.Write(path, payload); err != nil {
				return false
			}
			got, kind, err := store.Read(path)
			if err != nil || kind != SourceCanonical {
				return false
			}
			return samePayload(got, keys, fields)
		},
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestLegacyToleranceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every legacy layout of the same data decodes to the canonical payload", prop.ForAll(
		func(fields map[string]string) bool {
			payload, keys := buildPayload(fields)
			body, err := payload.marshal()
			if err != nil {
				return false
			}

			canonical, err := Encode(payload)
			if err != nil {
				return false
			}
			variants := []struct {
				data []byte
				kind SourceKind
			}{
				{canonical, SourceCanonical},
				{[]byte("---\n" + string(body) + "---\n"), SourceLegacyFrontmatter},
				{[]byte("```yaml\n" + string(body) + "```\n"), SourceLegacyBareYAML},
				{body, SourceLegacyWholeYAML},
			}

			for _, v := range variants {
				got, kind, err := Decode(v.data)
				if err != nil || kind != v.kind {
					return false
				}
				if !samePayload(got, keys, fields) {
					return false
				}
			}
			return true
		},
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestBackupSafetyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var seq atomic.Int64

	// High-bit bytes are invalid UTF-8, so no protocol variant can parse them.
	garbageGen := gen.SliceOfN(16, gen.UInt8Range(0x80, 0xff))

	properties.Property("overwriting an unparsable file preserves its exact bytes in a backup", prop.ForAll(
		func(garbage []uint8) bool {
			dir := filepath.Join(root, fmt.Sprintf("case%d", seq.Add(1)))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return false
			}
			path := filepath.Join(dir, "settings.md")
			if err := os.WriteFile(path, garbage, 0o644); err != nil {
				return false
			}

			payload := NewPayload()
			_ = payload.Set("version", 1)
			if err := store.Write(path, payload); err != nil {
				return false
			}

			matches, err := filepath.Glob(path + ".bak-*")
			if err != nil || len(matches) != 1 {
				return false
			}
			saved, err := os.ReadFile(matches[0])
			if err != nil {
				return false
			}
			if len(saved) != len(garbage) {
				return false
			}
			for i := range saved {
				if saved[i] != garbage[i] {
					return false
				}
			}
			return true
		},
		garbageGen,
	))

	properties.TestingRun(t)
}
