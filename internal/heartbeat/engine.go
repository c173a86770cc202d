// Package heartbeat drives per-user periodic maintenance. A single
// dispatcher scans the user set every second; each due user gets one beat:
// run the sub-jobs, grade the findings, and submit a heartbeat task to the
// inbox when there is anything worth the model's attention.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/state"
)

const tickInterval = time.Second

// Engine is the heartbeat dispatcher.
type Engine struct {
	store *Store
	state *state.Store
	inbox *inbox.Inbox
	bus   *events.Bus
	jobs  []Job
	cfg   config.HeartbeatConfig
}

// NewEngine builds a dispatcher over the given sub-jobs.
func NewEngine(st *state.Store, in *inbox.Inbox, bus *events.Bus, cfg config.HeartbeatConfig, jobs ...Job) *Engine {
	return &Engine{
		store: NewStore(st),
		state: st,
		inbox: in,
		bus:   bus,
		jobs:  jobs,
		cfg:   cfg,
	}
}

// Store exposes the underlying heartbeat store for the CLI.
func (e *Engine) Store() *Store { return e.store }

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	for _, userID := range e.users() {
		if ctx.Err() != nil {
			return
		}
		e.Beat(ctx, userID, time.Now())
	}
}

// users lists every user directory under the data root.
func (e *Engine) users() []string {
	entries, err := os.ReadDir(filepath.Join(e.state.Root(), "users"))
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	return out
}

// Beat runs one heartbeat for a user if it is due. It returns whether a beat
// actually ran.
func (e *Engine) Beat(ctx context.Context, userID string, now time.Time) bool {
	cfg, err := e.store.Config(userID)
	if err != nil {
		slog.Warn("heartbeat config unreadable", "user", userID, "error", err)
		return false
	}
	if !cfg.Enabled || cfg.Paused(now) {
		return false
	}
	if !WithinActiveHours(cfg.ActiveHours, now) {
		return false
	}

	status := e.store.Status(userID)
	if !status.NextDueAt.IsZero() && now.Before(status.NextDueAt) {
		return false
	}

	// Yield to an active conversation; the envelope stays unsent and the
	// next tick retries.
	if e.inbox.HasActive(userID, inbox.SourceUserChat) {
		return false
	}

	owner, ok := e.store.AcquireLock(userID)
	if !ok {
		return false
	}

	every := ParseEvery(cfg.Every, e.cfg.DefaultEvery.Duration())
	nextDue := now.Add(every)

	findings := e.runJobs(ctx, userID, status.LastRunAt)
	digest := renderDigest(findings)
	level := Classify(digest)

	if level == LevelOK && e.cfg.SuppressOK {
		if err := e.store.RecordRun(userID, owner, "HEARTBEAT_OK", LevelOK, nextDue); err != nil {
			slog.Error("heartbeat status write failed", "user", userID, "error", err)
		}
		e.publish(userID, LevelOK, "")
		return true
	}

	if _, err := e.inbox.Submit(inbox.SubmitRequest{
		Source:        inbox.SourceHeartbeat,
		Goal:          beatGoal(cfg, findings),
		UserID:        userID,
		Platform:      status.DeliverTo.Platform,
		SessionID:     "heartbeat:" + userID,
		Priority:      inbox.PriorityNormal,
		RequiresReply: level != LevelOK,
	}); err != nil {
		slog.Error("heartbeat submit failed", "user", userID, "error", err)
		e.store.ReleaseLock(userID, owner)
		return false
	}

	result := digest
	if result == "" {
		result = "HEARTBEAT_OK"
	}
	if err := e.store.RecordRun(userID, owner, result, level, nextDue); err != nil {
		slog.Error("heartbeat status write failed", "user", userID, "error", err)
	}
	e.publish(userID, level, digest)
	return true
}

func (e *Engine) runJobs(ctx context.Context, userID string, lastRun time.Time) []Finding {
	var findings []Finding
	for _, job := range e.jobs {
		got, err := job.Run(ctx, userID, lastRun)
		if err != nil {
			slog.Warn("heartbeat sub-job failed", "job", job.Name(), "user", userID, "error", err)
		}
		findings = append(findings, got...)
	}
	return findings
}

func (e *Engine) publish(userID string, level Level, summary string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.NewTypedEvent(events.SourceHeartbeat, events.HeartbeatResultPayload{
		UserID:  userID,
		Grade:   string(level),
		Summary: summary,
	}))
}

func renderDigest(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Job, f.Note)
	}
	return strings.TrimRight(b.String(), "\n")
}

// beatGoal is the instruction the manager receives for a heartbeat task. It
// teaches the grading contract: quiet beats answer with the sentinel so the
// adapter can suppress delivery.
func beatGoal(cfg Config, findings []Finding) string {
	var b strings.Builder
	b.WriteString("Periodic heartbeat check.\n")

	if len(cfg.Checklist) > 0 {
		b.WriteString("Checklist:\n")
		for _, item := range cfg.Checklist {
			b.WriteString("- " + item + "\n")
		}
	}

	if len(findings) == 0 {
		b.WriteString("No sub-job findings.\n")
	} else {
		b.WriteString("Sub-job findings:\n")
		b.WriteString(renderDigest(findings))
		b.WriteString("\n")
	}

	b.WriteString("If nothing needs the user's attention, reply exactly HEARTBEAT_OK. " +
		"Otherwise reply with a single line for minor notices or a full message " +
		"with items for anything requiring action.")
	return b.String()
}
