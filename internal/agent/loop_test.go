package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/models"
	"github.com/xbot-ai/xbot/internal/tools"
)

// scriptedModel plays back a fixed sequence of responses. Steps past the end
// of the script repeat the last one.
type scriptedModel struct {
	steps []func(msgs []*schema.Message) (*schema.Message, error)
	calls int
	bound []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*scriptedModel)(nil)

func (m *scriptedModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.bound = infos
	return m, nil
}

func (m *scriptedModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	i := m.calls
	if i >= len(m.steps) {
		i = len(m.steps) - 1
	}
	m.calls++
	return m.steps[i](msgs)
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("scripted model does not stream")
}

func say(text string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

func callTool(id, name, args string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{{
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}}), nil
	}
}

// echoTool returns its args back as the observation.
type echoTool struct{}

func (echoTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "echo",
		Desc: "Echo the given text back.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"text": {Type: schema.String, Desc: "text to echo", Required: true},
		}),
	}, nil
}

func (echoTool) Invoke(_ context.Context, _ tools.Caller, argsJSON string) tools.Response {
	return tools.OK("echoed", map[string]any{"args": argsJSON})
}

func newLoop(t *testing.T, m model.ToolCallingChatModel) *Loop {
	t.Helper()
	access, err := tools.NewAccessStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := tools.NewRegistry(access)
	reg.Register("echo", echoTool{})

	return &Loop{
		Model:     m,
		ModelName: "scripted",
		Registry:  reg,
		Caller:    tools.ManagerCaller("user1", t.TempDir()),
		Bus:       events.NewBus(64),
	}
}

func TestLoopDirectAnswer(t *testing.T) {
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		say("hello there"),
	}}
	loop := newLoop(t, m)

	answer, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "hello there" {
		t.Errorf("answer = %q", answer)
	}
	if m.calls != 1 {
		t.Errorf("calls = %d", m.calls)
	}
	if len(m.bound) != 1 || m.bound[0].Name != "echo" {
		t.Errorf("bound tools = %+v", m.bound)
	}
}

func TestLoopToolRoundtrip(t *testing.T) {
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		callTool("c1", "echo", `{"text":"ping"}`),
		func(msgs []*schema.Message) (*schema.Message, error) {
			last := msgs[len(msgs)-1]
			if last.Role != schema.Tool || last.ToolCallID != "c1" {
				return nil, fmt.Errorf("observation not threaded back: %+v", last)
			}
			if !strings.Contains(last.Content, `"ok":true`) {
				return nil, fmt.Errorf("observation = %q", last.Content)
			}
			return schema.AssistantMessage("echo said ping", nil), nil
		},
	}}
	loop := newLoop(t, m)

	answer, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("echo ping")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "echo said ping" {
		t.Errorf("answer = %q", answer)
	}
}

func TestLoopUnknownToolIsObservation(t *testing.T) {
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		callTool("c1", "no_such_tool", `{}`),
		func(msgs []*schema.Message) (*schema.Message, error) {
			last := msgs[len(msgs)-1]
			if !strings.Contains(last.Content, "unknown_tool") {
				return nil, fmt.Errorf("observation = %q", last.Content)
			}
			return schema.AssistantMessage("that tool does not exist", nil), nil
		},
	}}
	loop := newLoop(t, m)

	if _, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("x")}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestLoopCircuitBreaker(t *testing.T) {
	// The same call with the same args yields the same observation forever.
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		callTool("c", "echo", `{"text":"same"}`),
	}}
	loop := newLoop(t, m)

	_, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("spin")})
	if !errors.Is(err, ErrLoopDetected) {
		t.Fatalf("err = %v, want ErrLoopDetected", err)
	}
	if m.calls != loopWindow {
		t.Errorf("calls = %d, want %d", m.calls, loopWindow)
	}
}

func TestLoopVariedCallsAreNotALoop(t *testing.T) {
	step := 0
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func([]*schema.Message) (*schema.Message, error) {
			step++
			if step > 4 {
				return schema.AssistantMessage("done after varied calls", nil), nil
			}
			args := fmt.Sprintf(`{"text":"step %d"}`, step)
			return schema.AssistantMessage("", []schema.ToolCall{{
				ID:       fmt.Sprintf("c%d", step),
				Function: schema.FunctionCall{Name: "echo", Arguments: args},
			}}), nil
		},
	}}
	loop := newLoop(t, m)

	answer, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("work")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "done after varied calls" {
		t.Errorf("answer = %q", answer)
	}
}

func TestLoopTurnBudget(t *testing.T) {
	step := 0
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func([]*schema.Message) (*schema.Message, error) {
			step++
			return schema.AssistantMessage("", []schema.ToolCall{{
				ID:       fmt.Sprintf("c%d", step),
				Function: schema.FunctionCall{Name: "echo", Arguments: fmt.Sprintf(`{"text":"%d"}`, step)},
			}}), nil
		},
	}}
	loop := newLoop(t, m)
	loop.MaxTurns = 4

	_, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("never stop")})
	if !errors.Is(err, ErrTurnsExceeded) {
		t.Fatalf("err = %v, want ErrTurnsExceeded", err)
	}
	if m.calls != 4 {
		t.Errorf("calls = %d", m.calls)
	}
}

func TestLoopRetriesTransientModelFailure(t *testing.T) {
	attempts := 0
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func([]*schema.Message) (*schema.Message, error) {
			attempts++
			if attempts < 3 {
				return nil, &models.ErrModelUnavailable{Provider: "scripted"}
			}
			return schema.AssistantMessage("recovered", nil), nil
		},
	}}
	loop := newLoop(t, m)

	answer, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "recovered" || attempts != 3 {
		t.Errorf("answer = %q, attempts = %d", answer, attempts)
	}
}

func TestLoopDoesNotRetryHardFailure(t *testing.T) {
	attempts := 0
	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func([]*schema.Message) (*schema.Message, error) {
			attempts++
			return nil, errors.New("401 invalid api key")
		},
	}}
	loop := newLoop(t, m)

	_, err := loop.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err == nil || !strings.Contains(err.Error(), "llm_unavailable") {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d", attempts)
	}
}

func TestLoopCancellationBetweenToolCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m := &scriptedModel{steps: []func([]*schema.Message) (*schema.Message, error){
		func([]*schema.Message) (*schema.Message, error) {
			cancel()
			return schema.AssistantMessage("", []schema.ToolCall{{
				ID:       "c1",
				Function: schema.FunctionCall{Name: "echo", Arguments: `{"text":"x"}`},
			}}), nil
		},
	}}
	loop := newLoop(t, m)

	_, err := loop.Run(ctx, []*schema.Message{schema.UserMessage("hi")})
	if err == nil || !strings.Contains(err.Error(), "task_cancelled") {
		t.Fatalf("err = %v", err)
	}
}
