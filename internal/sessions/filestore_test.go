package sessions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenCreatesAndReopens(t *testing.T) {
	store := NewFileStore(t.TempDir())

	s, err := store.Open("telegram:12345", "12345", "telegram")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Status != SessionActive || s.Platform != "telegram" || s.UserID != "12345" {
		t.Errorf("session = %+v", s)
	}

	// a second Open returns the same session, not a fresh one
	again, err := store.Open("telegram:12345", "", "")
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if again.UserID != "12345" {
		t.Errorf("re-opened session lost metadata: %+v", again)
	}
}

func TestOpenRejectsEmptyID(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if _, err := store.Open("", "u", "p"); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestGetNotFound(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, err := store.Get("telegram:none")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestAppendAndLoadMessages(t *testing.T) {
	store := NewFileStore(t.TempDir())

	s, err := store.Open("cli:u1", "u1", "cli")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	msgs := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
		{Role: "user", Content: "bye"},
	}
	for _, m := range msgs {
		if err := store.AppendMessage(s.ID, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	loaded, err := store.LoadMessages(s.ID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(loaded) != len(msgs) {
		t.Fatalf("loaded %d messages, want %d", len(loaded), len(msgs))
	}
	for i, m := range loaded {
		if m.Role != msgs[i].Role || m.Content != msgs[i].Content {
			t.Errorf("msg[%d] = %+v, want %+v", i, m, msgs[i])
		}
	}

	got, err := store.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", got.MessageCount)
	}
}

func TestTranscriptMirror(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	s, err := store.Open("cli:u1", "u1", "cli")
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	if err := store.AppendMessage(s.ID, Message{Role: "user", Content: "remind me later", Ts: ts}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	path := filepath.Join(dir, "cli_u1", "transcripts", "2026-08-25.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "## 09:30:00 user") || !strings.Contains(text, "remind me later") {
		t.Errorf("transcript = %q", text)
	}
}

func TestClose(t *testing.T) {
	store := NewFileStore(t.TempDir())

	s, err := store.Open("cli:u1", "u1", "cli")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := store.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != SessionClosed {
		t.Errorf("Status = %q", got.Status)
	}
}

func TestListOrdering(t *testing.T) {
	store := NewFileStore(t.TempDir())

	s1, _ := store.Open("cli:a", "a", "cli")
	store.Open("cli:b", "b", "cli")
	store.Open("cli:c", "c", "cli")

	s1.UpdatedAt = time.Now().Add(time.Second)
	if err := store.UpdateMeta(s1); err != nil {
		t.Fatalf("UpdateMeta: %v", err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].ID != s1.ID {
		t.Errorf("list[0] = %q, want most recently updated", list[0].ID)
	}
}

func TestLoadMessagesSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	s, err := store.Open("cli:u1", "u1", "cli")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(s.ID, Message{Role: "user", Content: "first"}); err != nil {
		t.Fatal(err)
	}

	// inject a corrupt line between valid ones
	path := filepath.Join(dir, "cli_u1", "messages.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{broken json\n")
	f.Close()

	if err := store.AppendMessage(s.ID, Message{Role: "assistant", Content: "second"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.LoadMessages(s.ID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want corrupt line skipped", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("msgs = %+v", msgs)
	}
}
