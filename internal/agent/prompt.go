package agent

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// maxPromptChars bounds the composed system prompt. Layers are trimmed from
// the tail, whole layers at a time, so the base policy always survives.
const maxPromptChars = 2048

const (
	maxToolHintLines = 40
	maxToolHintChars = 88
)

// basePolicy is the non-negotiable first prompt layer for the manager.
const basePolicy = `You are the core manager of a personal assistant system.
Handle the user's request directly when a short answer suffices. Use tools
for anything touching files, commands, extensions, or the worker fleet.
Delegate long or parallel work to workers with dispatch_worker and report
their results. Tool results arrive as JSON observations; when ok is false,
read error_code and message, adjust, or explain the failure. Finish with a
plain text answer for the user.`

// workerBasePolicy replaces the manager policy inside a worker context.
const workerBasePolicy = `You are a worker agent executing one dispatched
instruction. Work only inside your workspace, use your tools, and finish
with a short structured summary of what you did and what came out of it.
Never contact the user directly and never dispatch other workers.`

const memoryGuide = `Long-term memory tools are available. Look up relevant
entities before answering questions about prior context, and record durable
facts (people, projects, preferences) with create_entities or
add_observations when the user states them.`

// PromptInput carries the layers the composer assembles.
type PromptInput struct {
	Worker   bool
	Persona  string
	MemoryOn bool
	Tools    []*schema.ToolInfo
}

// ComposePrompt layers base policy, persona, memory guidance, and tool
// hints into one system prompt of at most 2KB.
func ComposePrompt(in PromptInput) string {
	policy := basePolicy
	if in.Worker {
		policy = workerBasePolicy
	}

	layers := []string{policy}
	if p := strings.TrimSpace(in.Persona); p != "" {
		layers = append(layers, p)
	}
	if in.MemoryOn {
		layers = append(layers, memoryGuide)
	}
	if hints := toolHints(in.Tools); hints != "" {
		layers = append(layers, hints)
	}

	// Trim whole layers from the tail until the prompt fits.
	for len(layers) > 1 && promptLen(layers) > maxPromptChars {
		layers = layers[:len(layers)-1]
	}

	out := strings.Join(layers, "\n\n")
	if len(out) > maxPromptChars {
		out = out[:maxPromptChars]
	}
	return out
}

// toolHints renders one line per tool: the name and the first sentence of
// its description, clipped.
func toolHints(infos []*schema.ToolInfo) string {
	if len(infos) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Tools:\n")
	for i, info := range infos {
		if i == maxToolHintLines {
			break
		}
		line := fmt.Sprintf("- %s: %s", info.Name, firstSentence(info.Desc))
		if len(line) > maxToolHintChars {
			line = line[:maxToolHintChars]
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

func promptLen(layers []string) int {
	n := 0
	for _, l := range layers {
		n += len(l) + 2
	}
	return n
}
