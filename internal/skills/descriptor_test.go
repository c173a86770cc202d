package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, dir, name, content string) string {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(skillDir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleSkill = `---
name: word_count
api_version: v3
description: Count words in the given text.
triggers:
  - count words
input_schema:
  type: object
  properties:
    text:
      type: string
  required: [text]
permissions:
  filesystem: workspace
  shell: false
  network: none
entrypoint: run.sh
version: "1.0"
---

# word_count

Counts words.
`

func TestParseSkillFile(t *testing.T) {
	path := writeSkill(t, t.TempDir(), "word_count", sampleSkill)

	d, err := ParseSkillFile(path)
	if err != nil {
		t.Fatalf("ParseSkillFile: %v", err)
	}
	if d.Name != "word_count" || d.APIVersion != "v3" || d.Entrypoint != "run.sh" {
		t.Errorf("descriptor = %+v", d)
	}
	if d.Permissions.Filesystem != "workspace" || d.Permissions.Shell {
		t.Errorf("permissions = %+v", d.Permissions)
	}
	if !strings.Contains(d.Body, "Counts words.") {
		t.Errorf("body = %q", d.Body)
	}
	if len(d.Triggers) != 1 || d.Triggers[0] != "count words" {
		t.Errorf("triggers = %v", d.Triggers)
	}
}

func TestParseSkillFileRejects(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
	}{
		{"no frontmatter", "just markdown\n"},
		{"wrong api version", "---\nname: x\napi_version: v2\ndescription: d\nentrypoint: run.sh\n---\n"},
		{"missing entrypoint", "---\nname: x\napi_version: v3\ndescription: d\n---\n"},
		{"bad name", "---\nname: Bad Name\napi_version: v3\ndescription: d\nentrypoint: run.sh\n---\n"},
		{"entrypoint escape", "---\nname: x\napi_version: v3\ndescription: d\nentrypoint: ../../run.sh\n---\n"},
		{"bad filesystem", "---\nname: x\napi_version: v3\ndescription: d\nentrypoint: run.sh\npermissions:\n  filesystem: everywhere\n---\n"},
		{"timeout too big", "---\nname: x\napi_version: v3\ndescription: d\nentrypoint: run.sh\ntimeout_sec: 700\n---\n"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSkill(t, dir, filepath.Base(t.Name())+string(rune('a'+i)), tc.content)
			if _, err := ParseSkillFile(path); err == nil {
				t.Error("parse accepted invalid skill")
			}
		})
	}
}
