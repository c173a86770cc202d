package skills

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIVersion is the only skill contract version this runtime executes.
const APIVersion = "v3"

// Kind separates shipped skills from skills the agent taught itself.
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindLearned Kind = "learned"
)

// Permissions declares what a skill may touch. Filesystem "workspace" grants
// the per-user extension workspace read-write plus the skill dir read-only;
// "none" grants nothing. Network "limited" allows outbound HTTP.
type Permissions struct {
	Filesystem string `yaml:"filesystem"`
	Shell      bool   `yaml:"shell"`
	Network    string `yaml:"network"`
}

// Descriptor is the parsed SKILL.md frontmatter plus load-time metadata.
type Descriptor struct {
	Name        string         `yaml:"name"`
	APIVersion  string         `yaml:"api_version"`
	Description string         `yaml:"description"`
	Triggers    []string       `yaml:"triggers"`
	InputSchema map[string]any `yaml:"input_schema"`
	Permissions Permissions    `yaml:"permissions"`
	Entrypoint  string         `yaml:"entrypoint"`
	Version     string         `yaml:"version"`
	TimeoutSec  int            `yaml:"timeout_sec"`

	// Set by the loader, not by frontmatter.
	Kind   Kind   `yaml:"-"`
	Dir    string `yaml:"-"`
	Body   string `yaml:"-"`
	Native bool   `yaml:"-"`
}

var skillNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ParseSkillFile reads a SKILL.md: yaml frontmatter between --- fences,
// markdown body after.
func ParseSkillFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", path, err)
	}

	front, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", path, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal([]byte(front), &d); err != nil {
		return nil, fmt.Errorf("parse skill %s: %w", path, err)
	}
	d.Body = strings.TrimSpace(body)

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("skill %s: %w", path, err)
	}
	return &d, nil
}

func splitFrontmatter(content string) (front, body string, err error) {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, "---\n") {
		return "", "", fmt.Errorf("missing frontmatter")
	}
	rest := strings.TrimPrefix(content, "---\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	front = rest[:idx]
	body = rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return front, body, nil
}

// Validate checks the descriptor against the v3 contract.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !skillNameRe.MatchString(d.Name) {
		return fmt.Errorf("invalid name %q", d.Name)
	}
	if d.APIVersion != APIVersion {
		return fmt.Errorf("unsupported api_version %q, want %q", d.APIVersion, APIVersion)
	}
	if d.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !d.Native && d.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(d.Entrypoint, "..") {
		return fmt.Errorf("entrypoint escapes the skill directory")
	}

	switch d.Permissions.Filesystem {
	case "", "none", "workspace":
	default:
		return fmt.Errorf("unknown filesystem permission %q", d.Permissions.Filesystem)
	}
	switch d.Permissions.Network {
	case "", "none", "limited":
	default:
		return fmt.Errorf("unknown network permission %q", d.Permissions.Network)
	}

	if d.TimeoutSec < 0 || d.TimeoutSec > 600 {
		return fmt.Errorf("timeout_sec %d out of range [0,600]", d.TimeoutSec)
	}
	return nil
}
