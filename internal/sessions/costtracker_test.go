package sessions

import (
	"testing"
	"time"

	"github.com/xbot-ai/xbot/internal/events"
)

func publishLLMResponse(bus *events.Bus, sessionID string, in, out int) {
	bus.Publish(events.NewTypedEventWithSession(events.SourceAgent, events.LLMCallPayload{
		Phase:        "response",
		Model:        "test-model",
		TokensInput:  in,
		TokensOutput: out,
	}, sessionID))
}

func TestCostTrackerAccumulates(t *testing.T) {
	store := NewFileStore(t.TempDir())
	sess, err := store.Open("telegram_1", "1", "telegram")
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(64)
	defer bus.Close()
	ct := NewCostTracker(bus, store)
	defer ct.Close()

	publishLLMResponse(bus, sess.ID, 100, 20)
	publishLLMResponse(bus, sess.ID, 50, 10)
	time.Sleep(100 * time.Millisecond)

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenUsage.Input != 150 || got.TokenUsage.Output != 30 {
		t.Errorf("usage = %+v", got.TokenUsage)
	}
}

func TestCostTrackerIgnoresRequestsAndUnknownSessions(t *testing.T) {
	store := NewFileStore(t.TempDir())
	sess, err := store.Open("telegram_1", "1", "telegram")
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(64)
	defer bus.Close()
	ct := NewCostTracker(bus, store)
	defer ct.Close()

	// request phase carries no usage yet
	bus.Publish(events.NewTypedEventWithSession(events.SourceAgent, events.LLMCallPayload{
		Phase: "request",
		Model: "test-model",
	}, sess.ID))
	// unknown session must not error or create state
	publishLLMResponse(bus, "telegram_ghost", 10, 10)
	time.Sleep(100 * time.Millisecond)

	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenUsage.Input != 0 || got.TokenUsage.Output != 0 {
		t.Errorf("usage = %+v", got.TokenUsage)
	}
}
