// Package tools declares the callable surface of the agent and executes it
// uniformly. The four primitives (read, write, edit, bash) are always
// present; gated tools (worker management, extensions, memory) are filtered
// per caller by the access store before the executor ever sees a call.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Error codes shared by every tool response.
const (
	CodeInvalidArgs    = "invalid_args"
	CodeInvalidPath    = "invalid_path"
	CodePathDenied     = "path_denied"
	CodeNotFound       = "not_found"
	CodeIsDirectory    = "is_directory"
	CodeDecodeError    = "decode_error"
	CodeReadFailed     = "read_failed"
	CodeExists         = "exists"
	CodeParentMissing  = "parent_missing"
	CodeWriteFailed    = "write_failed"
	CodeEditNotFound   = "edit_not_found"
	CodeAmbiguousMatch = "ambiguous_match"
	CodePolicyBlocked  = "policy_blocked"
	CodeTimeout        = "timeout"
	CodeExecFailed     = "exec_failed"
	CodeCommandFailed  = "command_failed"
	CodeUnauthorized   = "unauthorized"
	CodeUnknownTool    = "unknown_tool"
)

// Response is the uniform result envelope every tool returns.
type Response struct {
	OK        bool           `json:"ok"`
	Data      map[string]any `json:"data,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// OK builds a success response.
func OK(summary string, data map[string]any) Response {
	return Response{OK: true, Summary: summary, Data: data}
}

// Fail builds an error response.
func Fail(code, message string) Response {
	return Response{OK: false, ErrorCode: code, Message: message}
}

// FailData builds an error response carrying extra data, used by bash to
// hand failing output back to the model.
func FailData(code, message string, data map[string]any) Response {
	return Response{OK: false, ErrorCode: code, Message: message, Data: data}
}

// JSON renders the response as the observation string fed to the model.
func (r Response) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error_code":"encode_error"}`
	}
	return string(data)
}

// Role distinguishes the two agent contexts sharing one loop.
type Role string

const (
	RoleManager Role = "manager"
	RoleWorker  Role = "worker"
)

// RuntimeWorkerPrefix marks a runtime user id as a worker identity.
const RuntimeWorkerPrefix = "worker::"

// Caller is the identity a tool call executes under. Workspace is the only
// directory tree the caller may touch; Shell widens the worker bash
// allow-list when the worker record grants it.
type Caller struct {
	RuntimeUser string
	Role        Role
	Workspace   string
	Shell       bool
}

// ManagerCaller builds the manager identity rooted at the data directory.
func ManagerCaller(runtimeUser, workspace string) Caller {
	return Caller{RuntimeUser: runtimeUser, Role: RoleManager, Workspace: workspace}
}

// WorkerCaller builds a worker identity rooted at its workspace.
func WorkerCaller(workerID, workspace string, shell bool) Caller {
	return Caller{
		RuntimeUser: RuntimeWorkerPrefix + workerID,
		Role:        RoleWorker,
		Workspace:   workspace,
		Shell:       shell,
	}
}

// WorkerID returns the worker id for worker callers, "" otherwise.
func (c Caller) WorkerID() string {
	if id, ok := strings.CutPrefix(c.RuntimeUser, RuntimeWorkerPrefix); ok {
		return id
	}
	return ""
}

// Tool is one callable capability. Invoke never returns a Go error: every
// failure is a Response the model can observe and react to.
type Tool interface {
	Info(ctx context.Context) (*schema.ToolInfo, error)
	Invoke(ctx context.Context, caller Caller, argsJSON string) Response
}
