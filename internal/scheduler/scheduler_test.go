package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/state"
)

func newScheduler(t *testing.T) (*Scheduler, *state.Store, *inbox.Inbox) {
	t.Helper()
	dir := t.TempDir()

	st, err := state.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus(64)
	in, err := inbox.New(filepath.Join(dir, "tasks"), bus)
	if err != nil {
		t.Fatal(err)
	}
	return New(st, in, bus), st, in
}

func TestTickSubmitsDueEntry(t *testing.T) {
	s, st, in := newScheduler(t)

	if err := st.SaveScheduledTasks("u1", []state.ScheduledTask{
		{ID: 1, Crontab: "30 9 * * *", Instruction: "summarize the inbox", Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 8, 25, 9, 30, 12, 0, time.UTC)
	s.Tick(context.Background(), at)

	pending := in.ListPending(0)
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	env := pending[0]
	if env.Source != inbox.SourceCron || env.Priority != inbox.PriorityLow {
		t.Errorf("env = %+v", env)
	}
	if env.Goal != "summarize the inbox" || env.UserID != "u1" {
		t.Errorf("env = %+v", env)
	}

	tasks := st.LoadScheduledTasks("u1")
	if tasks[0].LastRun == "" || tasks[0].NextRun == "" {
		t.Errorf("writeback missing: %+v", tasks[0])
	}
	next, err := time.Parse(time.RFC3339, tasks[0].NextRun)
	if err != nil || !next.After(at) {
		t.Errorf("next_run = %q", tasks[0].NextRun)
	}
}

func TestTickFiresOncePerMinute(t *testing.T) {
	s, st, in := newScheduler(t)

	if err := st.SaveScheduledTasks("u1", []state.ScheduledTask{
		{ID: 1, Crontab: "* * * * *", Instruction: "every minute", Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 8, 25, 10, 0, 5, 0, time.UTC)
	s.Tick(context.Background(), at)
	s.Tick(context.Background(), at.Add(30*time.Second))

	if got := len(in.List()); got != 1 {
		t.Errorf("submissions in one minute = %d", got)
	}

	s.Tick(context.Background(), at.Add(time.Minute))
	if got := len(in.List()); got != 2 {
		t.Errorf("submissions after next minute = %d", got)
	}
}

func TestTickSkipsDisabledAndNotDue(t *testing.T) {
	s, st, in := newScheduler(t)

	if err := st.SaveScheduledTasks("u1", []state.ScheduledTask{
		{ID: 1, Crontab: "0 12 * * *", Instruction: "noon", Enabled: true},
		{ID: 2, Crontab: "* * * * *", Instruction: "disabled", Enabled: false},
	}); err != nil {
		t.Fatal(err)
	}

	s.Tick(context.Background(), time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))
	if got := len(in.List()); got != 0 {
		t.Errorf("submissions = %d", got)
	}
}

func TestTickSkipsInvalidCrontab(t *testing.T) {
	s, st, in := newScheduler(t)

	if err := st.SaveScheduledTasks("u1", []state.ScheduledTask{
		{ID: 1, Crontab: "every day at dawn", Instruction: "bad", Enabled: true},
		{ID: 2, Crontab: "* * * * *", Instruction: "good", Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}

	s.Tick(context.Background(), time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	list := in.List()
	if len(list) != 1 || list[0].Goal != "good" {
		t.Errorf("list = %+v", list)
	}
}

func TestMtimeReloadPicksUpEdits(t *testing.T) {
	s, st, in := newScheduler(t)

	if err := st.SaveScheduledTasks("u1", []state.ScheduledTask{
		{ID: 1, Crontab: "0 12 * * *", Instruction: "old", Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}
	s.Tick(context.Background(), time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	// Edit the schedule; bump mtime explicitly since coarse filesystem
	// timestamps may hide a same-instant rewrite.
	if err := st.SaveScheduledTasks("u1", []state.ScheduledTask{
		{ID: 1, Crontab: "* * * * *", Instruction: "new", Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}
	path, err := st.ScheduledTasksPath("u1")
	if err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	s.Tick(context.Background(), time.Date(2026, 8, 25, 10, 1, 0, 0, time.UTC))

	list := in.List()
	if len(list) != 1 || list[0].Goal != "new" {
		t.Errorf("list = %+v", list)
	}
}

func TestMissingScheduleFileIsQuiet(t *testing.T) {
	s, _, in := newScheduler(t)
	s.Tick(context.Background(), time.Now())
	if got := len(in.List()); got != 0 {
		t.Errorf("submissions = %d", got)
	}
}
