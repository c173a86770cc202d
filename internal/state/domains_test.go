package state

import (
	"os"
	"testing"
)

func TestUserSettingsRoundtrip(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetTranslationMode("7", true); err != nil {
		t.Fatalf("SetTranslationMode: %v", err)
	}

	settings := store.GetUserSettings("7")
	if !settings.TranslationMode {
		t.Error("translation_mode = false, want true")
	}
	if settings.Version != 1 {
		t.Errorf("version = %d, want 1", settings.Version)
	}
}

func TestUserSettingsCorruptFallsBackToDefaults(t *testing.T) {
	store := newTestStore(t)

	path, err := store.UserPath("7", "settings.md")
	if err != nil {
		t.Fatalf("UserPath: %v", err)
	}
	if err := os.MkdirAll(store.Root()+"/users/7", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	original := []byte{0x00, 0xff, 0xfe, 0x42}
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	settings := store.GetUserSettings("7")
	if settings.TranslationMode || settings.Language != "" {
		t.Errorf("corrupt settings should yield defaults, got %+v", settings)
	}

	// The next write repairs the file and keeps the original bytes around.
	if err := store.SetTranslationMode("7", true); err != nil {
		t.Fatalf("SetTranslationMode: %v", err)
	}
	if !store.GetUserSettings("7").TranslationMode {
		t.Error("translation_mode not persisted after repair")
	}
}

func TestSubscriptionsRoundtrip(t *testing.T) {
	store := newTestStore(t)

	subs := []Subscription{
		{ID: 1, URL: "https://example.com/feed.xml", Title: "Example"},
		{ID: 2, URL: "https://blog.example.com/rss"},
	}
	if err := store.SaveSubscriptions("7", subs); err != nil {
		t.Fatalf("SaveSubscriptions: %v", err)
	}

	got := store.LoadSubscriptions("7")
	if len(got) != 2 {
		t.Fatalf("LoadSubscriptions = %d entries, want 2", len(got))
	}
	if got[0].URL != subs[0].URL || got[1].ID != 2 {
		t.Errorf("LoadSubscriptions = %+v", got)
	}
}

func TestLoadSubscriptionsMissingFile(t *testing.T) {
	store := newTestStore(t)
	if got := store.LoadSubscriptions("99"); got != nil {
		t.Errorf("expected nil for missing file, got %v", got)
	}
}

func TestRemindersRoundtrip(t *testing.T) {
	store := newTestStore(t)

	reminders := []Reminder{{ID: 1, Text: "water the plants", DueAt: "2026-03-01T09:00:00Z"}}
	if err := store.SaveReminders("7", reminders); err != nil {
		t.Fatalf("SaveReminders: %v", err)
	}

	got := store.LoadReminders("7")
	if len(got) != 1 || got[0].Text != "water the plants" {
		t.Errorf("LoadReminders = %+v", got)
	}
}

func TestScheduledTasksRoundtrip(t *testing.T) {
	store := newTestStore(t)

	tasks := []ScheduledTask{{ID: 1, Crontab: "0 9 * * *", Instruction: "morning digest", Enabled: true}}
	if err := store.SaveScheduledTasks("7", tasks); err != nil {
		t.Fatalf("SaveScheduledTasks: %v", err)
	}

	got := store.LoadScheduledTasks("7")
	if len(got) != 1 || got[0].Crontab != "0 9 * * *" || !got[0].Enabled {
		t.Errorf("LoadScheduledTasks = %+v", got)
	}
}

func TestAllowedUsersRoundtrip(t *testing.T) {
	store := newTestStore(t)

	if got := store.LoadAllowedUsers(); got != nil {
		t.Fatalf("expected nil before save, got %v", got)
	}
	if err := store.SaveAllowedUsers([]string{"7", "42"}); err != nil {
		t.Fatalf("SaveAllowedUsers: %v", err)
	}
	got := store.LoadAllowedUsers()
	if len(got) != 2 || got[0] != "7" {
		t.Errorf("LoadAllowedUsers = %v", got)
	}
}

func TestVideoCacheReplacesSameURL(t *testing.T) {
	store := newTestStore(t)

	u := "https://example.com/video.mp4"
	if err := store.StoreVideo(VideoCacheEntry{URL: u, Path: "/tmp/a.mp4"}); err != nil {
		t.Fatalf("StoreVideo: %v", err)
	}
	if err := store.StoreVideo(VideoCacheEntry{URL: u, Path: "/tmp/b.mp4"}); err != nil {
		t.Fatalf("StoreVideo: %v", err)
	}

	entry, ok := store.LookupVideo(u)
	if !ok {
		t.Fatal("LookupVideo: not found")
	}
	if entry.Path != "/tmp/b.mp4" {
		t.Errorf("path = %q, want /tmp/b.mp4", entry.Path)
	}
	if entry.CreatedAt == "" {
		t.Error("created_at not set")
	}
}
