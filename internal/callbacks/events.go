// Package callbacks bridges eino runtime callbacks onto the event bus so
// the gateway, TUI, and event log see every model and tool invocation with
// task and session correlation.
package callbacks

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/xbot-ai/xbot/internal/events"
)

const maxObservationPreview = 1000

type startedAtKey struct{}

// NewEventBusHandler builds the callback handler the orchestrator attaches
// to every model/tool invocation. Session and task ids are read from the
// call context; extension runs additionally publish skill events.
func NewEventBusHandler(bus *events.Bus, source events.EventSource) callbacks.Handler {
	if source == "" {
		source = events.SourceAgent
	}

	publish := func(ctx context.Context, payload events.EventPayload) {
		sid := events.SessionIDFromContext(ctx)
		tid := events.TaskIDFromContext(ctx)
		if tid != "" {
			bus.Publish(events.NewTaskEvent(payload.EventType(), source, payload, sid, tid))
			return
		}
		if sid != "" {
			bus.Publish(events.NewTypedEventWithSession(source, payload, sid))
			return
		}
		bus.Publish(events.NewTypedEvent(source, payload))
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			publish(ctx, events.LLMCallPayload{
				Phase:        "request",
				Model:        info.Name,
				MessageCount: len(input.Messages),
			})
			return context.WithValue(ctx, startedAtKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			payload := events.LLMCallPayload{
				Phase:    "response",
				Model:    info.Name,
				Duration: sinceStart(ctx),
			}
			if output.Message != nil && output.Message.ResponseMeta != nil && output.Message.ResponseMeta.Usage != nil {
				payload.TokensInput = output.Message.ResponseMeta.Usage.PromptTokens
				payload.TokensOutput = output.Message.ResponseMeta.Usage.CompletionTokens
			}
			publish(ctx, payload)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.LLMCallPayload{
				Phase:    "error",
				Model:    info.Name,
				Duration: sinceStart(ctx),
				Error:    err.Error(),
			})
			return ctx
		},
	}

	toolHandler := &ub.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			payload := events.ToolCallPayload{
				Status: events.ToolStatusStarted,
				Name:   info.Name,
			}
			if input.ArgumentsInJSON != "" {
				payload.Arguments = preview(input.ArgumentsInJSON)
			}
			publish(ctx, payload)
			return context.WithValue(ctx, startedAtKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			publish(ctx, events.ToolCallPayload{
				Status: events.ToolStatusCompleted,
				Name:   info.Name,
				Result: preview(output.Response),
			})
			if skill, ok := skillName(info.Name); ok {
				publish(ctx, events.SkillRunPayload{
					Name:       skill,
					OK:         !strings.Contains(output.Response, `"ok":false`),
					DurationMS: sinceStart(ctx).Milliseconds(),
				})
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.ToolCallPayload{
				Status: events.ToolStatusFailed,
				Name:   info.Name,
				Error:  err.Error(),
			})
			if skill, ok := skillName(info.Name); ok {
				publish(ctx, events.SkillRunPayload{
					Name:       skill,
					OK:         false,
					Error:      err.Error(),
					DurationMS: sinceStart(ctx).Milliseconds(),
				})
			}
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Tool(toolHandler).
		Handler()
}

// skillName recognizes extension tools (ext_<name>) so their runs also
// surface as skill events.
func skillName(toolName string) (string, bool) {
	name, ok := strings.CutPrefix(toolName, "ext_")
	return name, ok && name != ""
}

func sinceStart(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startedAtKey{}).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

func preview(s string) string {
	if len(s) <= maxObservationPreview {
		return s
	}
	return s[:maxObservationPreview] + "... (truncated)"
}
