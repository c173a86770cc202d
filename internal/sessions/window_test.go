package sessions

import "testing"

func TestWindowFitsAll(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "aaaa"},
		{Role: "assistant", Content: "bbbb"},
	}
	got := Window(msgs, 100)
	if len(got) != 2 {
		t.Fatalf("len = %d, want all messages", len(got))
	}
}

func TestWindowTrimsOldest(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "oldest oldest"},
		{Role: "assistant", Content: "middle"},
		{Role: "user", Content: "newest"},
	}
	got := Window(msgs, 13) // "middle"+"newest" = 12 chars
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "middle" || got[1].Content != "newest" {
		t.Errorf("window = %+v", got)
	}
}

func TestWindowAlwaysKeepsLast(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "a very long message that exceeds any budget"},
	}
	got := Window(msgs, 5)
	if len(got) != 1 {
		t.Fatalf("len = %d, want the last message kept", len(got))
	}

	if got := Window(nil, 100); got != nil {
		t.Errorf("Window(nil) = %v", got)
	}
}

func TestCharBudgetFloor(t *testing.T) {
	if got := CharBudget(1000, 100000, 100000); got != 2048 {
		t.Errorf("budget = %d, want floor", got)
	}
	if got := CharBudget(200000, 2048, 4096); got != 200000*3-2048-4096 {
		t.Errorf("budget = %d", got)
	}
}
