package state

import (
	"fmt"
	"time"
)

// Settings is the per-user settings.md payload.
type Settings struct {
	Version         int    `yaml:"version"`
	TranslationMode bool   `yaml:"translation_mode"`
	Language        string `yaml:"language,omitempty"`
	Timezone        string `yaml:"timezone,omitempty"`
}

// Subscription is one RSS feed in rss/subscriptions.md.
type Subscription struct {
	ID          int    `yaml:"id"`
	URL         string `yaml:"url"`
	Title       string `yaml:"title,omitempty"`
	LastGUID    string `yaml:"last_guid,omitempty"`
	LastChecked string `yaml:"last_checked,omitempty"`
}

type subscriptionsFile struct {
	Version       int            `yaml:"version"`
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// WatchlistEntry is one symbol in stock/watchlist.md.
type WatchlistEntry struct {
	Symbol  string `yaml:"symbol"`
	Note    string `yaml:"note,omitempty"`
	AddedAt string `yaml:"added_at,omitempty"`
}

type watchlistFile struct {
	Version int              `yaml:"version"`
	Symbols []WatchlistEntry `yaml:"symbols"`
}

// Reminder is one entry in automation/reminders.md.
type Reminder struct {
	ID     int    `yaml:"id"`
	Text   string `yaml:"text"`
	DueAt  string `yaml:"due_at"`
	Repeat string `yaml:"repeat,omitempty"`
	Done   bool   `yaml:"done"`
}

type remindersFile struct {
	Version   int        `yaml:"version"`
	Reminders []Reminder `yaml:"reminders"`
}

// ScheduledTask is one cron entry in automation/scheduled_tasks.md.
type ScheduledTask struct {
	ID          int    `yaml:"id"`
	Crontab     string `yaml:"crontab"`
	Instruction string `yaml:"instruction"`
	Enabled     bool   `yaml:"enabled"`
	LastRun     string `yaml:"last_run,omitempty"`
	NextRun     string `yaml:"next_run,omitempty"`
}

type scheduledTasksFile struct {
	Version int             `yaml:"version"`
	Tasks   []ScheduledTask `yaml:"tasks"`
}

type allowedUsersFile struct {
	Version int      `yaml:"version"`
	Users   []string `yaml:"users"`
}

// VideoCacheEntry maps a source URL to a downloaded artifact.
type VideoCacheEntry struct {
	URL       string `yaml:"url"`
	Path      string `yaml:"path"`
	Title     string `yaml:"title,omitempty"`
	CreatedAt string `yaml:"created_at"`
}

type videoCacheFile struct {
	Version int               `yaml:"version"`
	Entries []VideoCacheEntry `yaml:"entries"`
}

// GetUserSettings loads settings.md for a user. Missing or unparsable files
// yield zero-value defaults; the next write repairs the file.
func (s *Store) GetUserSettings(userID string) Settings {
	path, err := s.UserPath(userID, "settings.md")
	if err != nil {
		return Settings{Version: 1}
	}
	var settings Settings
	if _, err := s.ReadInto(path, &settings); err != nil {
		return Settings{Version: 1}
	}
	return settings
}

// UpdateUserSettings applies fn to the current settings and persists the
// result canonically.
func (s *Store) UpdateUserSettings(userID string, fn func(*Settings)) error {
	path, err := s.UserPath(userID, "settings.md")
	if err != nil {
		return err
	}
	settings := s.GetUserSettings(userID)
	fn(&settings)
	settings.Version = 1
	if err := s.WriteValue(path, settings); err != nil {
		return fmt.Errorf("save settings for %s: %w", userID, err)
	}
	return nil
}

// SetTranslationMode toggles the translation flag in user settings.
func (s *Store) SetTranslationMode(userID string, on bool) error {
	return s.UpdateUserSettings(userID, func(st *Settings) {
		st.TranslationMode = on
	})
}

// LoadSubscriptions returns the user's RSS subscriptions, empty when the
// file is missing or unreadable.
func (s *Store) LoadSubscriptions(userID string) []Subscription {
	var file subscriptionsFile
	path, err := s.UserPath(userID, "rss", "subscriptions.md")
	if err != nil {
		return nil
	}
	if _, err := s.ReadInto(path, &file); err != nil {
		return nil
	}
	return file.Subscriptions
}

// SaveSubscriptions persists the user's RSS subscriptions.
func (s *Store) SaveSubscriptions(userID string, subs []Subscription) error {
	path, err := s.UserPath(userID, "rss", "subscriptions.md")
	if err != nil {
		return err
	}
	return s.WriteValue(path, subscriptionsFile{Version: 1, Subscriptions: subs})
}

// LoadWatchlist returns the user's stock watchlist.
func (s *Store) LoadWatchlist(userID string) []WatchlistEntry {
	var file watchlistFile
	path, err := s.UserPath(userID, "stock", "watchlist.md")
	if err != nil {
		return nil
	}
	if _, err := s.ReadInto(path, &file); err != nil {
		return nil
	}
	return file.Symbols
}

// SaveWatchlist persists the user's stock watchlist.
func (s *Store) SaveWatchlist(userID string, entries []WatchlistEntry) error {
	path, err := s.UserPath(userID, "stock", "watchlist.md")
	if err != nil {
		return err
	}
	return s.WriteValue(path, watchlistFile{Version: 1, Symbols: entries})
}

// LoadReminders returns the user's reminders.
func (s *Store) LoadReminders(userID string) []Reminder {
	var file remindersFile
	path, err := s.UserPath(userID, "automation", "reminders.md")
	if err != nil {
		return nil
	}
	if _, err := s.ReadInto(path, &file); err != nil {
		return nil
	}
	return file.Reminders
}

// SaveReminders persists the user's reminders.
func (s *Store) SaveReminders(userID string, reminders []Reminder) error {
	path, err := s.UserPath(userID, "automation", "reminders.md")
	if err != nil {
		return err
	}
	return s.WriteValue(path, remindersFile{Version: 1, Reminders: reminders})
}

// ScheduledTasksPath returns the path of a user's scheduled_tasks.md; the
// scheduler watches its mtime for hot reload.
func (s *Store) ScheduledTasksPath(userID string) (string, error) {
	return s.UserPath(userID, "automation", "scheduled_tasks.md")
}

// LoadScheduledTasks returns the user's cron entries.
func (s *Store) LoadScheduledTasks(userID string) []ScheduledTask {
	var file scheduledTasksFile
	path, err := s.ScheduledTasksPath(userID)
	if err != nil {
		return nil
	}
	if _, err := s.ReadInto(path, &file); err != nil {
		return nil
	}
	return file.Tasks
}

// SaveScheduledTasks persists the user's cron entries.
func (s *Store) SaveScheduledTasks(userID string, tasks []ScheduledTask) error {
	path, err := s.ScheduledTasksPath(userID)
	if err != nil {
		return err
	}
	return s.WriteValue(path, scheduledTasksFile{Version: 1, Tasks: tasks})
}

// LoadAllowedUsers returns the system allow-list. An absent file means no
// restriction has been configured.
func (s *Store) LoadAllowedUsers() []string {
	var file allowedUsersFile
	path := s.SystemPath("repositories", "allowed_users.md")
	if _, err := s.ReadInto(path, &file); err != nil {
		return nil
	}
	return file.Users
}

// SaveAllowedUsers persists the system allow-list.
func (s *Store) SaveAllowedUsers(users []string) error {
	path := s.SystemPath("repositories", "allowed_users.md")
	return s.WriteValue(path, allowedUsersFile{Version: 1, Users: users})
}

// LookupVideo returns the cached artifact for a source URL, if any.
func (s *Store) LookupVideo(url string) (VideoCacheEntry, bool) {
	var file videoCacheFile
	path := s.SystemPath("repositories", "video_cache.md")
	if _, err := s.ReadInto(path, &file); err != nil {
		return VideoCacheEntry{}, false
	}
	for _, entry := range file.Entries {
		if entry.URL == url {
			return entry, true
		}
	}
	return VideoCacheEntry{}, false
}

// StoreVideo records a downloaded artifact, replacing any entry for the
// same URL.
func (s *Store) StoreVideo(entry VideoCacheEntry) error {
	if entry.CreatedAt == "" {
		entry.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	var file videoCacheFile
	path := s.SystemPath("repositories", "video_cache.md")
	_, _ = s.ReadInto(path, &file)

	kept := file.Entries[:0]
	for _, e := range file.Entries {
		if e.URL != entry.URL {
			kept = append(kept, e)
		}
	}
	file.Entries = append(kept, entry)
	file.Version = 1
	return s.WriteValue(path, file)
}
