package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xbot-ai/xbot/internal/events"
)

const (
	defaultSkillTimeout = 120 * time.Second
	maxSkillTimeout     = 600 * time.Second
	maxSkillOutput      = 1 << 20 // 1 MB
	maxSkillFiles       = 10
	maxSkillFileSize    = 10 << 20 // 10 MB per emitted file
)

// Error codes surfaced in skill results.
const (
	CodeSkillNotFound = "skill_not_found"
	CodeSchema        = "schema"
	CodeTimeout       = "timeout"
	CodeExecution     = "execution_failed"
)

// FileArtifact is one file a skill emitted for delivery.
type FileArtifact struct {
	Path string `json:"path"`
	Mime string `json:"mime"`
}

// Result is the normalized outcome of a skill run. Failures are values the
// model observes, never panics.
type Result struct {
	OK        bool           `json:"ok"`
	SkillName string         `json:"skill_name"`
	Result    any            `json:"result,omitempty"`
	UI        *events.UI     `json:"ui,omitempty"`
	Files     []FileArtifact `json:"files,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

func failResult(name, code, message string) Result {
	return Result{SkillName: name, ErrorCode: code, Message: message}
}

// NativeRunner is an in-process skill implementation.
type NativeRunner func(ctx context.Context, args map[string]any) (*NativeResult, error)

// NativeResult is what a native skill hands back before normalization.
type NativeResult struct {
	Value any
	UI    *events.UI
	Files []FileArtifact
}

// Executor runs skills: natives in-process, everything else as a subprocess
// speaking JSON over argv and stdin.
type Executor struct {
	registry *Registry
	bus      *events.Bus
}

// NewExecutor wires the executor to the registry and the event bus.
func NewExecutor(registry *Registry, bus *events.Bus) *Executor {
	return &Executor{registry: registry, bus: bus}
}

// Run executes the named skill. workspace is the caller's extension
// workspace root; the skill gets a private subdirectory of it.
func (e *Executor) Run(ctx context.Context, workspace, name string, rawArgs json.RawMessage) Result {
	d, ok := e.registry.Get(name)
	if !ok {
		return failResult(name, CodeSkillNotFound, fmt.Sprintf("no skill named %q", name))
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return failResult(name, CodeSchema, fmt.Sprintf("args must be a JSON object: %v", err))
		}
	}
	applyDefaults(d.InputSchema, args)

	if err := validateArgs(d.InputSchema, args); err != nil {
		return failResult(name, CodeSchema, err.Error())
	}

	e.publish(ctx, events.EventSkillStarted, events.SkillRunPayload{Name: name})
	start := time.Now()

	var res Result
	if run, native := e.registry.Native(name); native {
		res = e.runNative(ctx, d, run, args)
	} else {
		res = e.runSubprocess(ctx, d, workspace, args)
	}
	res.SkillName = name

	done := events.SkillRunPayload{Name: name, OK: res.OK, DurationMS: time.Since(start).Milliseconds()}
	if !res.OK {
		done.Error = res.Message
	}
	e.publish(ctx, events.EventSkillCompleted, done)
	return res
}

func (e *Executor) publish(ctx context.Context, t events.EventType, p events.SkillRunPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewTaskEvent(t, events.SourceSkill, p,
		events.SessionIDFromContext(ctx), events.TaskIDFromContext(ctx)))
}

func (e *Executor) runNative(ctx context.Context, d *Descriptor, run NativeRunner, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("native skill panicked", "skill", d.Name, "panic", r)
			res = failResult(d.Name, CodeExecution, fmt.Sprintf("skill panicked: %v", r))
		}
	}()

	timeout := skillTimeout(d)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := run(ctx, args)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failResult(d.Name, CodeTimeout, fmt.Sprintf("skill timed out after %s", timeout))
		}
		return failResult(d.Name, CodeExecution, err.Error())
	}

	res = Result{OK: true, SkillName: d.Name}
	if out != nil {
		res.Result = out.Value
		res.UI = out.UI
		res.Files = capFiles(d.Name, out.Files)
	}
	return res
}

func (e *Executor) runSubprocess(ctx context.Context, d *Descriptor, workspace string, args map[string]any) Result {
	entry := filepath.Join(d.Dir, d.Entrypoint)
	if !strings.HasPrefix(filepath.Clean(entry), filepath.Clean(d.Dir)+string(filepath.Separator)) {
		return failResult(d.Name, CodeExecution, "entrypoint escapes the skill directory")
	}
	if _, err := os.Stat(entry); err != nil {
		return failResult(d.Name, CodeExecution, fmt.Sprintf("entrypoint missing: %v", err))
	}

	workDir := filepath.Join(workspace, "extensions", d.Name)
	outDir := filepath.Join(workDir, "out")
	if d.Permissions.Filesystem == "workspace" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return failResult(d.Name, CodeExecution, fmt.Sprintf("prepare workspace: %v", err))
		}
	} else {
		workDir = d.Dir
		outDir = ""
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return failResult(d.Name, CodeSchema, err.Error())
	}

	timeout := skillTimeout(d)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, entry, string(argsJSON))
	cmd.Dir = workDir
	cmd.Stdin = bytes.NewReader(argsJSON)
	cmd.Env = append(os.Environ(),
		"SKILL_NAME="+d.Name,
		"SKILL_DIR="+d.Dir,
		"SKILL_OUTPUT_DIR="+outDir,
		"SKILL_NETWORK="+networkMode(d),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxSkillOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxSkillOutput}

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return failResult(d.Name, CodeTimeout, fmt.Sprintf("skill timed out after %s", timeout))
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return failResult(d.Name, CodeExecution, msg)
	}

	res := Result{OK: true, SkillName: d.Name}
	res.Result, res.UI = decodeSkillOutput(stdout.Bytes())
	if outDir != "" {
		res.Files = capFiles(d.Name, collectFiles(outDir))
	}
	return res
}

func skillTimeout(d *Descriptor) time.Duration {
	if d.TimeoutSec > 0 {
		t := time.Duration(d.TimeoutSec) * time.Second
		if t > maxSkillTimeout {
			return maxSkillTimeout
		}
		return t
	}
	return defaultSkillTimeout
}

func networkMode(d *Descriptor) string {
	if d.Permissions.Network == "" {
		return "none"
	}
	return d.Permissions.Network
}

// decodeSkillOutput takes the subprocess stdout. A JSON object with a
// "result" key is the structured form; any other JSON value is the result
// itself; non-JSON output is the result as trimmed text.
func decodeSkillOutput(stdout []byte) (any, *events.UI) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var obj struct {
		Result any        `json:"result"`
		UI     *events.UI `json:"ui"`
	}
	if json.Unmarshal(trimmed, &obj) == nil && obj.Result != nil {
		return obj.Result, obj.UI
	}

	var v any
	if json.Unmarshal(trimmed, &v) == nil {
		return v, nil
	}
	return string(trimmed), nil
}

// collectFiles lists regular files under the skill output directory.
func collectFiles(dir string) []FileArtifact {
	var files []FileArtifact
	_ = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		files = append(files, FileArtifact{
			Path: path,
			Mime: mimeFor(path),
		})
		return nil
	})
	return files
}

// capFiles drops oversized artifacts and everything past the file cap.
func capFiles(skill string, files []FileArtifact) []FileArtifact {
	kept := files[:0]
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil || info.Size() > maxSkillFileSize {
			slog.Warn("dropping skill artifact", "skill", skill, "path", f.Path)
			continue
		}
		kept = append(kept, f)
		if len(kept) == maxSkillFiles {
			break
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func mimeFor(path string) string {
	if m := mime.TypeByExtension(filepath.Ext(path)); m != "" {
		return m
	}
	return "application/octet-stream"
}

// applyDefaults fills absent args from the schema property defaults before
// validation runs.
func applyDefaults(schema map[string]any, args map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if def, has := prop["default"]; has {
			if _, present := args[name]; !present {
				args[name] = def
			}
		}
	}
}

// validateArgs checks args against the declared input_schema. Skills without
// a schema accept anything.
func validateArgs(schemaDoc map[string]any, args map[string]any) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("input_schema.json", doc); err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	schema, err := compiler.Compile("input_schema.json")
	if err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}

	// Round-trip the args so numbers carry the representation the validator
	// expects.
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return err
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(argsJSON))
	if err != nil {
		return err
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if remaining := l.n - l.w.Len(); remaining > 0 {
		if len(p) > remaining {
			l.w.Write(p[:remaining])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}
