package heartbeat

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xbot-ai/xbot/internal/state"
	"github.com/xbot-ai/xbot/internal/storage"
)

const (
	configVersion  = 2
	lockTTL        = 20 * time.Second
	defaultEvery   = 30 * time.Minute
	maxResultChars = 4000
	maxStatusNotes = 40
)

// Level grades a heartbeat result: OK is silent, NOTICE is a single line,
// ACTION is a full message.
type Level string

const (
	LevelOK     Level = "OK"
	LevelNotice Level = "NOTICE"
	LevelAction Level = "ACTION"
)

// Config is the per-user HEARTBEAT.md payload. Absence of the file means
// heartbeat is disabled for that user.
type Config struct {
	Version     int      `yaml:"version"`
	Enabled     bool     `yaml:"enabled"`
	Every       string   `yaml:"every"`                  // "30m", "2h", bare number = minutes
	ActiveHours string   `yaml:"active_hours,omitempty"` // "08:00-23:00", wraps overnight
	PausedUntil string   `yaml:"paused_until,omitempty"` // RFC3339
	Checklist   []string `yaml:"checklist,omitempty"`
}

// Delivery names where heartbeat messages for a user go.
type Delivery struct {
	Platform string `json:"platform,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
}

// StatusNote is one audit line in STATUS.json.
type StatusNote struct {
	Ts   time.Time `json:"ts"`
	Kind string    `json:"kind"`
	Note string    `json:"note"`
}

// Status is the runtime side of a user's heartbeat, kept in STATUS.json next
// to HEARTBEAT.md. The lock fields give the dispatcher exclusive runs even
// when two processes race over a shared data dir.
type Status struct {
	LockedBy   string       `json:"locked_by,omitempty"`
	LockedAt   time.Time    `json:"locked_at"`
	LastRunAt  time.Time    `json:"last_run_at"`
	LastResult string       `json:"last_result,omitempty"`
	LastLevel  Level        `json:"last_level,omitempty"`
	NextDueAt  time.Time    `json:"next_due_at"`
	DeliverTo  Delivery     `json:"deliver_to"`
	Events     []StatusNote `json:"events,omitempty"`
}

// Store reads and writes per-user heartbeat state under
// data/users/<uid>/heartbeat/.
type Store struct {
	state *state.Store
}

// NewStore creates a heartbeat store over the state store.
func NewStore(st *state.Store) *Store {
	return &Store{state: st}
}

func (s *Store) configPath(userID string) (string, error) {
	return s.state.UserPath(userID, "heartbeat", "HEARTBEAT.md")
}

func (s *Store) statusPath(userID string) (string, error) {
	return s.state.UserPath(userID, "heartbeat", "STATUS.json")
}

// Config loads the user's heartbeat configuration. A missing file means
// disabled. Legacy v1 files are backed up to HEARTBEAT.v1.bak.md and
// replaced with fresh defaults.
func (s *Store) Config(userID string) (Config, error) {
	path, err := s.configPath(userID)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if _, err := s.state.ReadInto(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		// Unparsable under every protocol variant: treat as legacy.
		return s.resetLegacy(userID, path)
	}

	if cfg.Version < configVersion {
		return s.resetLegacy(userID, path)
	}
	return cfg, nil
}

func (s *Store) resetLegacy(userID, path string) (Config, error) {
	if data, err := os.ReadFile(path); err == nil {
		bak := strings.TrimSuffix(path, ".md") + ".v1.bak.md"
		if err := os.WriteFile(bak, data, 0o644); err != nil {
			return Config{}, fmt.Errorf("back up legacy heartbeat file: %w", err)
		}
	}
	cfg := DefaultConfig()
	if err := s.SaveConfig(userID, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig is what Ensure and legacy resets write.
func DefaultConfig() Config {
	return Config{
		Version: configVersion,
		Enabled: true,
		Every:   "30m",
		Checklist: []string{
			"check rss subscriptions",
			"sweep due reminders",
		},
	}
}

// SaveConfig writes HEARTBEAT.md canonically.
func (s *Store) SaveConfig(userID string, cfg Config) error {
	path, err := s.configPath(userID)
	if err != nil {
		return err
	}
	cfg.Version = configVersion
	return s.state.WriteValue(path, cfg)
}

// Ensure enables heartbeat for a user, writing defaults when no config
// exists yet.
func (s *Store) Ensure(userID string) (Config, error) {
	cfg, err := s.Config(userID)
	if err != nil {
		return Config{}, err
	}
	if cfg.Version == configVersion {
		return cfg, nil
	}
	cfg = DefaultConfig()
	return cfg, s.SaveConfig(userID, cfg)
}

// Status loads STATUS.json; missing or corrupt files yield a zero status.
func (s *Store) Status(userID string) Status {
	path, err := s.statusPath(userID)
	if err != nil {
		return Status{}
	}
	var st Status
	if err := storage.ReadJSONFile(path, &st); err != nil {
		return Status{}
	}
	return st
}

func (s *Store) writeStatus(userID string, st Status) error {
	path, err := s.statusPath(userID)
	if err != nil {
		return err
	}
	return storage.WriteJSONFile(path, st)
}

// AcquireLock takes the per-user run lock. Expired locks (older than the
// ttl) are taken over; a live lock held by someone else returns false.
func (s *Store) AcquireLock(userID string) (string, bool) {
	st := s.Status(userID)
	now := time.Now().UTC()

	if st.LockedBy != "" && now.Sub(st.LockedAt) < lockTTL {
		return "", false
	}

	owner := fmt.Sprintf("hb:%s:%d", userID, now.Unix())
	st.LockedBy = owner
	st.LockedAt = now
	if err := s.writeStatus(userID, st); err != nil {
		return "", false
	}
	return owner, true
}

// ReleaseLock clears the lock if owner still holds it.
func (s *Store) ReleaseLock(userID, owner string) {
	st := s.Status(userID)
	if st.LockedBy != owner {
		return
	}
	st.LockedBy = ""
	st.LockedAt = time.Time{}
	_ = s.writeStatus(userID, st)
}

// RecordRun writes the outcome of one beat and schedules the next. The lock
// is cleared in the same write.
func (s *Store) RecordRun(userID, owner, result string, level Level, nextDue time.Time) error {
	st := s.Status(userID)
	if st.LockedBy == owner {
		st.LockedBy = ""
		st.LockedAt = time.Time{}
	}

	if len(result) > maxResultChars {
		result = result[:maxResultChars]
	}
	now := time.Now().UTC()
	st.LastRunAt = now
	st.LastResult = result
	st.LastLevel = level
	st.NextDueAt = nextDue

	st.Events = append(st.Events, StatusNote{Ts: now, Kind: "run", Note: string(level)})
	if len(st.Events) > maxStatusNotes {
		st.Events = st.Events[len(st.Events)-maxStatusNotes:]
	}

	return s.writeStatus(userID, st)
}

// SetDelivery records where this user's heartbeat messages should go.
func (s *Store) SetDelivery(userID string, d Delivery) error {
	st := s.Status(userID)
	st.DeliverTo = d
	return s.writeStatus(userID, st)
}

var everyRe = regexp.MustCompile(`^\s*(\d+)\s*([smhd]?)\s*$`)

// ParseEvery parses an interval like "30m", "2h", "45" (bare minutes). An
// empty or invalid value falls back to def; a zero def falls back to 30m.
func ParseEvery(s string, def time.Duration) time.Duration {
	if def <= 0 {
		def = defaultEvery
	}
	m := everyRe.FindStringSubmatch(s)
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return def
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	default: // "" and "m" both mean minutes
		return time.Duration(n) * time.Minute
	}
}

// WithinActiveHours reports whether now falls inside the "HH:MM-HH:MM"
// window. A window whose start is after its end wraps overnight; an empty
// or malformed window is always active.
func WithinActiveHours(window string, now time.Time) bool {
	start, end, ok := parseWindow(window)
	if !ok {
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseWindow(window string) (start, end int, ok bool) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok = parseClock(strings.TrimSpace(parts[0]))
	if !ok {
		return 0, 0, false
	}
	end, ok = parseClock(strings.TrimSpace(parts[1]))
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func parseClock(s string) (int, bool) {
	hm := strings.SplitN(s, ":", 2)
	if len(hm) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(hm[0])
	m, err2 := strconv.Atoi(hm[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// Paused reports whether the config's paused_until timestamp is in the
// future. Unparsable timestamps never pause.
func (c Config) Paused(now time.Time) bool {
	if c.PausedUntil == "" {
		return false
	}
	until, err := time.Parse(time.RFC3339, c.PausedUntil)
	if err != nil {
		return false
	}
	return now.Before(until)
}

// Classify grades a heartbeat task output. The empty string and the
// HEARTBEAT_OK sentinel are silent; action tokens escalate to ACTION;
// everything else that says something is a NOTICE.
func Classify(output string) Level {
	text := strings.TrimSpace(output)
	if text == "" || text == "HEARTBEAT_OK" {
		return LevelOK
	}

	lower := strings.ToLower(text)
	for _, token := range []string{"urgent", "action required", "overdue", "due now", "alert", "failed", "error"} {
		if strings.Contains(lower, token) {
			return LevelAction
		}
	}
	return LevelNotice
}
