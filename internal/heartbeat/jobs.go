package heartbeat

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xbot-ai/xbot/internal/state"
)

const (
	feedFetchTimeout = 15 * time.Second
	maxFeedBytes     = 2 << 20
	maxNewItems      = 5
)

// Finding is one noteworthy sub-job observation fed into the heartbeat task.
type Finding struct {
	Job  string
	Note string
}

// Job is one maintenance check the dispatcher runs per beat. lastRun is the
// previous beat time (zero on the first ever run) so jobs can rate-limit
// themselves below the beat frequency.
type Job interface {
	Name() string
	Run(ctx context.Context, userID string, lastRun time.Time) ([]Finding, error)
}

// RSSJob diffs each subscription feed against its stored last_guid and
// reports new items.
type RSSJob struct {
	State  *state.Store
	Client *http.Client
}

func (RSSJob) Name() string { return "rss" }

func (j RSSJob) Run(ctx context.Context, userID string, _ time.Time) ([]Finding, error) {
	subs := j.State.LoadSubscriptions(userID)
	if len(subs) == 0 {
		return nil, nil
	}

	client := j.Client
	if client == nil {
		client = &http.Client{Timeout: feedFetchTimeout}
	}

	var findings []Finding
	changed := false
	for i := range subs {
		items, err := fetchFeed(ctx, client, subs[i].URL)
		if err != nil || len(items) == 0 {
			continue
		}

		title := subs[i].Title
		if title == "" {
			title = subs[i].URL
		}

		fresh := newItems(items, subs[i].LastGUID)
		if len(fresh) > 0 && subs[i].LastGUID != "" {
			findings = append(findings, Finding{
				Job:  "rss",
				Note: fmt.Sprintf("%d new in %s: %s", len(fresh), title, itemTitles(fresh)),
			})
		}
		if subs[i].LastGUID != items[0].guid() {
			subs[i].LastGUID = items[0].guid()
			changed = true
		}
		subs[i].LastChecked = time.Now().UTC().Format(time.RFC3339)
		changed = true
	}

	if changed {
		if err := j.State.SaveSubscriptions(userID, subs); err != nil {
			return findings, err
		}
	}
	return findings, nil
}

type feedItem struct {
	Title string `xml:"title"`
	GUID  string `xml:"guid"`
	ID    string `xml:"id"` // atom
	Link  string `xml:"link"`
}

func (it feedItem) guid() string {
	switch {
	case it.GUID != "":
		return it.GUID
	case it.ID != "":
		return it.ID
	default:
		return it.Link
	}
}

type feedDoc struct {
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
	Entries []feedItem `xml:"entry"` // atom feeds have no channel
}

func fetchFeed(ctx context.Context, client *http.Client, url string) ([]feedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}

	var doc feedDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}
	if len(doc.Channel.Items) > 0 {
		return doc.Channel.Items, nil
	}
	return doc.Entries, nil
}

// newItems returns the items ahead of lastGUID, newest first, capped.
func newItems(items []feedItem, lastGUID string) []feedItem {
	if lastGUID == "" {
		return nil // first fetch establishes the baseline silently
	}
	var fresh []feedItem
	for _, it := range items {
		if it.guid() == lastGUID {
			break
		}
		fresh = append(fresh, it)
		if len(fresh) == maxNewItems {
			break
		}
	}
	return fresh
}

func itemTitles(items []feedItem) string {
	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, strings.TrimSpace(it.Title))
	}
	return strings.Join(titles, "; ")
}

// ReminderJob sweeps due reminders: each one becomes a finding, one-shot
// reminders are marked done, repeating ones advance.
type ReminderJob struct {
	State *state.Store
}

func (ReminderJob) Name() string { return "reminders" }

func (j ReminderJob) Run(_ context.Context, userID string, _ time.Time) ([]Finding, error) {
	reminders := j.State.LoadReminders(userID)
	if len(reminders) == 0 {
		return nil, nil
	}

	now := time.Now()
	var findings []Finding
	changed := false
	for i := range reminders {
		r := &reminders[i]
		if r.Done {
			continue
		}
		due, err := parseDue(r.DueAt)
		if err != nil || due.After(now) {
			continue
		}

		findings = append(findings, Finding{
			Job:  "reminders",
			Note: fmt.Sprintf("reminder due now: %s", r.Text),
		})
		switch r.Repeat {
		case "daily":
			r.DueAt = due.Add(24 * time.Hour).Format(time.RFC3339)
		case "weekly":
			r.DueAt = due.Add(7 * 24 * time.Hour).Format(time.RFC3339)
		default:
			r.Done = true
		}
		changed = true
	}

	if changed {
		if err := j.State.SaveReminders(userID, reminders); err != nil {
			return findings, err
		}
	}
	return findings, nil
}

func parseDue(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable due time %q", s)
}

// WatchlistJob surfaces the stock watchlist once per day so the manager can
// refresh quotes with its search tools. Every beat would be noise.
type WatchlistJob struct {
	State *state.Store
}

func (WatchlistJob) Name() string { return "watchlist" }

func (j WatchlistJob) Run(_ context.Context, userID string, lastRun time.Time) ([]Finding, error) {
	entries := j.State.LoadWatchlist(userID)
	if len(entries) == 0 {
		return nil, nil
	}

	now := time.Now()
	if !lastRun.IsZero() && sameDay(lastRun, now) {
		return nil, nil
	}

	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	return []Finding{{
		Job:  "watchlist",
		Note: fmt.Sprintf("daily watchlist refresh due: %s", strings.Join(symbols, ", ")),
	}}, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Compactor is what the memory package exposes for periodic maintenance.
type Compactor interface {
	Compact(ctx context.Context) error
}

// CompactionJob runs memory graph maintenance inside the beat. It never
// produces findings; a failure surfaces as one so the user hears about a
// broken memory store.
type CompactionJob struct {
	Memory Compactor
}

func (CompactionJob) Name() string { return "memory" }

func (j CompactionJob) Run(ctx context.Context, _ string, _ time.Time) ([]Finding, error) {
	if j.Memory == nil {
		return nil, nil
	}
	if err := j.Memory.Compact(ctx); err != nil {
		return []Finding{{Job: "memory", Note: fmt.Sprintf("memory compaction failed: %v", err)}}, nil
	}
	return nil, nil
}
