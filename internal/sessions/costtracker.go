package sessions

import (
	"log/slog"
	"sync"

	"github.com/xbot-ai/xbot/internal/events"
)

// CostTracker accumulates token usage per session from LLM call events so
// `xbot sessions` can report what each conversation cost.
type CostTracker struct {
	mu          sync.Mutex
	store       Store
	unsubscribe func()
}

// NewCostTracker subscribes to LLM response events on the bus.
func NewCostTracker(bus *events.Bus, store Store) *CostTracker {
	ct := &CostTracker{store: store}
	ct.unsubscribe = bus.Subscribe(ct.handle, events.EventLLMCall)
	return ct
}

// Close detaches the tracker from the bus.
func (ct *CostTracker) Close() {
	if ct.unsubscribe != nil {
		ct.unsubscribe()
	}
}

func (ct *CostTracker) handle(e events.Event) {
	if e.SessionID == "" {
		return
	}
	payload, ok := events.GetLLMCallPayload(e)
	if !ok || payload.Phase != "response" {
		return
	}
	if payload.TokensInput == 0 && payload.TokensOutput == 0 {
		return
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	sess, err := ct.store.Get(e.SessionID)
	if err != nil {
		slog.Debug("cost tracker: session not found", "session_id", e.SessionID, "error", err)
		return
	}

	sess.TokenUsage.Input += payload.TokensInput
	sess.TokenUsage.Output += payload.TokensOutput

	if err := ct.store.UpdateMeta(sess); err != nil {
		slog.Error("cost tracker: update meta", "session_id", e.SessionID, "error", err)
	}
}
