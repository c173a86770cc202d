package state

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeCanonical(t *testing.T) {
	input := "<!-- XBOT_STATE_BEGIN -->\n```yaml\nversion: 1\nname: eve\n```\n<!-- XBOT_STATE_END -->\n"

	payload, kind, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != SourceCanonical {
		t.Errorf("kind = %q, want %q", kind, SourceCanonical)
	}
	if payload.Version() != 1 {
		t.Errorf("version = %d, want 1", payload.Version())
	}
	node, ok := payload.Get("name")
	if !ok || node.Value != "eve" {
		t.Errorf("name = %v, want eve", node)
	}
}

func TestDecodeCanonicalWithSurroundingProse(t *testing.T) {
	input := "# Settings\n\nEdit only the block below.\n\n" +
		"<!-- XBOT_STATE_BEGIN -->\n```yaml\nversion: 1\ntranslation_mode: true\n```\n<!-- XBOT_STATE_END -->\n\ntrailing notes\n"

	payload, kind, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != SourceCanonical {
		t.Errorf("kind = %q, want %q", kind, SourceCanonical)
	}
	var out struct {
		TranslationMode bool `yaml:"translation_mode"`
	}
	if err := payload.Decode(&out); err != nil {
		t.Fatalf("payload.Decode: %v", err)
	}
	if !out.TranslationMode {
		t.Error("translation_mode = false, want true")
	}
}

func TestDecodeLegacyFrontmatter(t *testing.T) {
	input := "---\nversion: 1\nlanguage: zh\n---\n\n# old style file\n"

	payload, kind, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != SourceLegacyFrontmatter {
		t.Errorf("kind = %q, want %q", kind, SourceLegacyFrontmatter)
	}
	node, ok := payload.Get("language")
	if !ok || node.Value != "zh" {
		t.Errorf("language = %v, want zh", node)
	}
}

func TestDecodeLegacyBareFence(t *testing.T) {
	input := "```yaml\nversion: 1\ncount: 3\n```\n"

	payload, kind, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != SourceLegacyBareYAML {
		t.Errorf("kind = %q, want %q", kind, SourceLegacyBareYAML)
	}
	node, ok := payload.Get("count")
	if !ok || node.Value != "3" {
		t.Errorf("count = %v, want 3", node)
	}
}

func TestDecodeLegacyWholeYAML(t *testing.T) {
	input := "version: 1\nitems:\n  - a\n  - b\n"

	payload, kind, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != SourceLegacyWholeYAML {
		t.Errorf("kind = %q, want %q", kind, SourceLegacyWholeYAML)
	}
	if payload.Version() != 1 {
		t.Errorf("version = %d, want 1", payload.Version())
	}
}

func TestDecodeRejectsScalarText(t *testing.T) {
	// Plain prose parses as a YAML scalar; that must not count as recovery.
	_, _, err := Decode([]byte("just some notes a human left here"))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestDecodeRejectsBinaryGarbage(t *testing.T) {
	_, _, err := Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x80, 0x81})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestDecodeRejectsBrokenYAMLInsideMarkers(t *testing.T) {
	input := "<!-- XBOT_STATE_BEGIN -->\n```yaml\n: : :\n\t broken\n```\n<!-- XBOT_STATE_END -->\n"

	_, _, err := Decode([]byte(input))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestEncodeProducesCanonicalLayout(t *testing.T) {
	payload := NewPayload()
	if err := payload.Set("version", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := payload.Set("name", "atlas"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	text := string(data)
	if !strings.HasPrefix(text, BeginMarker+"\n```yaml\n") {
		t.Errorf("missing canonical header:\n%s", text)
	}
	if !strings.HasSuffix(text, "```\n"+EndMarker+"\n") {
		t.Errorf("missing canonical footer:\n%s", text)
	}
	if !strings.Contains(text, "version: 1\n") {
		t.Errorf("missing version line:\n%s", text)
	}
}

func TestEncodeDecodePreservesKeyOrder(t *testing.T) {
	payload := NewPayload()
	keys := []string{"version", "zeta", "alpha", "mike", "bravo"}
	for i, k := range keys {
		if err := payload.Set(k, i); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	data, err := Encode(payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, _, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got := decoded.Keys()
	if len(got) != len(keys) {
		t.Fatalf("Keys = %v, want %v", got, keys)
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Errorf("key[%d] = %q, want %q", i, got[i], keys[i])
		}
	}
}

func TestPayloadSetReplacesInPlace(t *testing.T) {
	payload := NewPayload()
	_ = payload.Set("version", 1)
	_ = payload.Set("mode", "off")
	_ = payload.Set("extra", true)

	if err := payload.Set("mode", "on"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	keys := payload.Keys()
	want := []string{"version", "mode", "extra"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys = %v, want %v", keys, want)
		}
	}
	node, _ := payload.Get("mode")
	if node.Value != "on" {
		t.Errorf("mode = %q, want on", node.Value)
	}
}
