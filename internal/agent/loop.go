// Package agent runs the bounded tool-calling loop at the heart of the
// system: compose a prompt, call the model, execute tool calls through the
// access-checked registry, feed observations back, and stop on plain text,
// turn budget, loop detection, or cancellation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/models"
	"github.com/xbot-ai/xbot/internal/tools"
)

const (
	defaultMaxTurns = 12
	loopWindow      = 3
)

// Terminal loop failures, surfaced as the envelope error.
var (
	ErrLoopDetected  = errors.New("loop_detected")
	ErrTurnsExceeded = errors.New("turn_budget_exhausted")
)

var retryBackoff = []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second}

// Loop executes one task against a chat model and a tool registry.
// Tools, when set, is the exact declaration set bound to the model; when nil
// the loop derives it from the registry for the caller.
type Loop struct {
	Model     model.ToolCallingChatModel
	ModelName string
	Registry  *tools.Registry
	Caller    tools.Caller
	Tools     []*schema.ToolInfo
	Bus       *events.Bus
	MaxTurns  int
}

// callRecord is one (name, args, result) triple for loop detection.
type callRecord struct {
	name   string
	args   string
	result string
}

// Run drives the loop until the model answers in plain text. The returned
// string is the user-visible answer; errors are terminal loop failures.
func (l *Loop) Run(ctx context.Context, msgs []*schema.Message) (string, error) {
	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	infos := l.Tools
	if infos == nil {
		var err error
		infos, err = l.Registry.Declarations(ctx, l.Caller)
		if err != nil {
			return "", fmt.Errorf("tool declarations: %w", err)
		}
	}

	chatModel := l.Model
	if len(infos) > 0 {
		var err error
		chatModel, err = l.Model.WithTools(infos)
		if err != nil {
			return "", fmt.Errorf("bind tools: %w", err)
		}
	}

	var recent []callRecord

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := l.generate(ctx, chatModel, msgs)
		if err != nil {
			return "", err
		}
		msgs = append(msgs, resp)

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", fmt.Errorf("task_cancelled: %w", err)
			}

			result := l.dispatch(ctx, call)
			msgs = append(msgs, schema.ToolMessage(result, call.ID))

			recent = append(recent, callRecord{
				name:   call.Function.Name,
				args:   call.Function.Arguments,
				result: result,
			})
			if len(recent) > loopWindow {
				recent = recent[1:]
			}
			if looping(recent) {
				slog.Warn("tool loop detected, terminating task",
					"tool", call.Function.Name, "caller", l.Caller.RuntimeUser)
				return "", ErrLoopDetected
			}
		}
	}

	return "", ErrTurnsExceeded
}

// generate calls the model, retrying transient failures with the fixed
// backoff ladder.
func (l *Loop) generate(ctx context.Context, chatModel model.ToolCallingChatModel, msgs []*schema.Message) (*schema.Message, error) {
	l.publishLLM("start", len(msgs), 0)
	start := time.Now()

	var resp *schema.Message
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = chatModel.Generate(ctx, msgs)
		if err == nil {
			break
		}
		if attempt >= len(retryBackoff) || !models.IsRetryable(err) {
			l.publishLLM("error", len(msgs), time.Since(start))
			return nil, fmt.Errorf("llm_unavailable: %w", err)
		}

		slog.Warn("model call failed, retrying", "model", l.ModelName,
			"attempt", attempt+1, "error", err)
		select {
		case <-time.After(retryBackoff[attempt]):
		case <-ctx.Done():
			return nil, fmt.Errorf("task_cancelled: %w", ctx.Err())
		}
	}

	l.publishLLM("end", len(msgs), time.Since(start))
	return resp, nil
}

// dispatch executes one tool call and returns the observation JSON. Every
// failure mode is an observation; the model decides what to do with it.
func (l *Loop) dispatch(ctx context.Context, call schema.ToolCall) string {
	name := call.Function.Name
	args := call.Function.Arguments

	l.publishTool(events.ToolStatusStarted, name, args, "", "")
	resp := l.Registry.Dispatch(ctx, l.Caller, name, args)
	observation := resp.JSON()

	status := events.ToolStatusCompleted
	if !resp.OK {
		status = events.ToolStatusFailed
	}
	l.publishTool(status, name, args, observation, resp.ErrorCode)
	return observation
}

// looping reports whether the last three calls are byte-identical triples.
func looping(recent []callRecord) bool {
	if len(recent) < loopWindow {
		return false
	}
	first := recent[0]
	for _, r := range recent[1:] {
		if r != first {
			return false
		}
	}
	return true
}

func (l *Loop) publishLLM(phase string, messageCount int, d time.Duration) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(events.NewTypedEvent(events.SourceAgent, events.LLMCallPayload{
		Phase:        phase,
		Model:        l.ModelName,
		MessageCount: messageCount,
		Duration:     d,
	}))
}

func (l *Loop) publishTool(status events.ToolStatus, name, args, result, errCode string) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(events.NewTypedEvent(events.SourceAgent, events.ToolCallPayload{
		Status:    status,
		Name:      name,
		Arguments: args,
		Result:    result,
		Error:     errCode,
	}))
}
