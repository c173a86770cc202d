// Package state implements the canonical file protocol: markdown files
// bracketing exactly one fenced YAML payload between XBOT state markers,
// with tolerant reads of the legacy layouts that predate the markers.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	BeginMarker = "<!-- XBOT_STATE_BEGIN -->"
	EndMarker   = "<!-- XBOT_STATE_END -->"

	fenceOpen  = "```yaml"
	fenceClose = "```"
)

// ErrParse is returned when no protocol variant can recover a payload.
var ErrParse = errors.New("no recoverable state payload")

// SourceKind identifies which protocol variant a payload was read from.
type SourceKind string

const (
	SourceCanonical         SourceKind = "canonical"
	SourceLegacyFrontmatter SourceKind = "legacy_frontmatter"
	SourceLegacyBareYAML    SourceKind = "legacy_bare_yaml"
	SourceLegacyWholeYAML   SourceKind = "legacy_whole_yaml"
)

// Decode parses file content under the canonical protocol, falling back to
// the legacy variants in order. It fails with ErrParse only when no variant
// yields a YAML mapping.
func Decode(data []byte) (*Payload, SourceKind, error) {
	if payload, ok := decodeCanonical(data); ok {
		return payload, SourceCanonical, nil
	}
	if payload, ok := decodeFrontmatter(data); ok {
		return payload, SourceLegacyFrontmatter, nil
	}
	if payload, ok := decodeBareFence(data); ok {
		return payload, SourceLegacyBareYAML, nil
	}
	if payload, ok := decodeWholeYAML(data); ok {
		return payload, SourceLegacyWholeYAML, nil
	}
	return nil, "", fmt.Errorf("%w (%d bytes)", ErrParse, len(data))
}

// Encode renders a payload as a canonical state file. The payload is written
// as-is; callers ensure the version key is present.
func Encode(payload *Payload) ([]byte, error) {
	body, err := payload.marshal()
	if err != nil {
		return nil, fmt.Errorf("encode state payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(BeginMarker)
	buf.WriteByte('\n')
	buf.WriteString(fenceOpen)
	buf.WriteByte('\n')
	buf.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(fenceClose)
	buf.WriteByte('\n')
	buf.WriteString(EndMarker)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func decodeCanonical(data []byte) (*Payload, bool) {
	text := string(data)

	begin := strings.Index(text, BeginMarker)
	if begin < 0 {
		return nil, false
	}
	rest := text[begin+len(BeginMarker):]
	end := strings.Index(rest, EndMarker)
	if end < 0 {
		return nil, false
	}
	block := rest[:end]

	open := strings.Index(block, fenceOpen)
	if open < 0 {
		return nil, false
	}
	block = block[open+len(fenceOpen):]
	shut := strings.LastIndex(block, fenceClose)
	if shut < 0 {
		return nil, false
	}

	payload, err := parseMapping([]byte(block[:shut]))
	if err != nil {
		return nil, false
	}
	return payload, true
}

func decodeFrontmatter(data []byte) (*Payload, bool) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, false
	}
	body := text[len("---\n"):]

	end := strings.Index(body, "\n---")
	if end < 0 {
		return nil, false
	}

	payload, err := parseMapping([]byte(body[:end]))
	if err != nil {
		return nil, false
	}
	return payload, true
}

func decodeBareFence(data []byte) (*Payload, bool) {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, fenceOpen) || !strings.HasSuffix(text, fenceClose) {
		return nil, false
	}
	inner := strings.TrimPrefix(text, fenceOpen)
	inner = strings.TrimSuffix(inner, fenceClose)

	payload, err := parseMapping([]byte(inner))
	if err != nil {
		return nil, false
	}
	return payload, true
}

func decodeWholeYAML(data []byte) (*Payload, bool) {
	payload, err := parseMapping(data)
	if err != nil {
		return nil, false
	}
	return payload, true
}
