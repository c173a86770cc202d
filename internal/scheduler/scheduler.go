// Package scheduler turns per-user scheduled_tasks.md files into cron task
// submissions. The file is the source of truth: a 30s tick reloads it on
// mtime change, so edits by the user or the agent take effect without a
// restart.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/state"
)

const tickInterval = 30 * time.Second

// entry pairs a stored task with its parsed crontab. Invalid crontabs keep
// expr nil and never fire.
type entry struct {
	task state.ScheduledTask
	expr *Crontab
}

type userSchedule struct {
	mtime   time.Time
	entries []entry
}

// Scheduler drives cron submissions for every user under the data root.
type Scheduler struct {
	state *state.Store
	inbox *inbox.Inbox
	bus   *events.Bus

	mu    sync.Mutex
	cache map[string]*userSchedule
}

// New builds a scheduler over the state store and inbox.
func New(st *state.Store, in *inbox.Inbox, bus *events.Bus) *Scheduler {
	return &Scheduler{
		state: st,
		inbox: in,
		bus:   bus,
		cache: make(map[string]*userSchedule),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick evaluates every user's schedule against now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, userID := range s.users() {
		if ctx.Err() != nil {
			return
		}
		s.tickUser(userID, now)
	}
}

func (s *Scheduler) users() []string {
	entries, err := os.ReadDir(filepath.Join(s.state.Root(), "users"))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func (s *Scheduler) tickUser(userID string, now time.Time) {
	sched := s.load(userID)
	if sched == nil || len(sched.entries) == 0 {
		return
	}

	fired := false
	for i := range sched.entries {
		e := &sched.entries[i]
		if !e.task.Enabled || e.expr == nil {
			continue
		}
		if !e.expr.Matches(now) {
			continue
		}
		// One submission per activation minute even when several ticks
		// land inside it.
		if e.task.LastRun != "" {
			if last, err := time.Parse(time.RFC3339, e.task.LastRun); err == nil &&
				last.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
				continue
			}
		}

		if _, err := s.inbox.Submit(inbox.SubmitRequest{
			Source:    inbox.SourceCron,
			Goal:      e.task.Instruction,
			UserID:    userID,
			SessionID: "cron:" + userID,
			Priority:  inbox.PriorityLow,
		}); err != nil {
			slog.Error("cron submit failed", "user", userID, "entry", e.task.ID, "error", err)
			continue
		}

		e.task.LastRun = now.UTC().Format(time.RFC3339)
		e.task.NextRun = e.expr.Next(now).UTC().Format(time.RFC3339)
		fired = true

		if s.bus != nil {
			s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, events.ScheduleTriggerPayload{
				UserID:      userID,
				EntryID:     e.task.ID,
				Instruction: e.task.Instruction,
			}))
		}
	}

	if fired {
		s.writeBack(userID, sched)
	}
}

// load returns the cached schedule for a user, reloading scheduled_tasks.md
// when its mtime changed. A missing file clears the cache entry.
func (s *Scheduler) load(userID string) *userSchedule {
	path, err := s.state.ScheduledTasksPath(userID)
	if err != nil {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		s.mu.Lock()
		delete(s.cache, userID)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[userID]; ok && cached.mtime.Equal(info.ModTime()) {
		return cached
	}

	tasks := s.state.LoadScheduledTasks(userID)
	sched := &userSchedule{mtime: info.ModTime(), entries: make([]entry, 0, len(tasks))}
	for _, task := range tasks {
		expr, err := ParseCrontab(task.Crontab)
		if err != nil {
			slog.Warn("invalid crontab, entry skipped",
				"user", userID, "entry", task.ID, "crontab", task.Crontab, "error", err)
			sched.entries = append(sched.entries, entry{task: task})
			continue
		}
		sched.entries = append(sched.entries, entry{task: task, expr: expr})
	}
	s.cache[userID] = sched
	return sched
}

// writeBack persists last_run/next_run and refreshes the cached mtime so the
// write does not read back as a user edit.
func (s *Scheduler) writeBack(userID string, sched *userSchedule) {
	tasks := make([]state.ScheduledTask, 0, len(sched.entries))
	for _, e := range sched.entries {
		tasks = append(tasks, e.task)
	}
	if err := s.state.SaveScheduledTasks(userID, tasks); err != nil {
		slog.Error("scheduled tasks writeback failed", "user", userID, "error", err)
		return
	}

	path, err := s.state.ScheduledTasksPath(userID)
	if err != nil {
		return
	}
	if info, err := os.Stat(path); err == nil {
		s.mu.Lock()
		sched.mtime = info.ModTime()
		s.mu.Unlock()
	}
}
