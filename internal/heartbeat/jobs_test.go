package heartbeat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xbot-ai/xbot/internal/state"
)

func feedXML(items ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>test</title>`)
	for _, it := range items {
		fmt.Fprintf(&b, "<item><title>%s</title><guid>guid-%s</guid></item>", it, it)
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func TestRSSJobDiffsAgainstLastGUID(t *testing.T) {
	body := feedXML("third", "second", "first")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSubscriptions("u1", []state.Subscription{
		{ID: 1, URL: srv.URL, Title: "Test Feed", LastGUID: "guid-first"},
	}); err != nil {
		t.Fatal(err)
	}

	job := RSSJob{State: st, Client: srv.Client()}
	findings, err := job.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %+v", findings)
	}
	if !strings.Contains(findings[0].Note, "2 new in Test Feed") {
		t.Errorf("note = %q", findings[0].Note)
	}

	subs := st.LoadSubscriptions("u1")
	if subs[0].LastGUID != "guid-third" {
		t.Errorf("last_guid = %q", subs[0].LastGUID)
	}

	// A second sweep with nothing new stays silent.
	findings, err = job.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %+v", findings)
	}
}

func TestRSSJobFirstFetchIsBaseline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, feedXML("only"))
	}))
	defer srv.Close()

	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSubscriptions("u1", []state.Subscription{{ID: 1, URL: srv.URL}}); err != nil {
		t.Fatal(err)
	}

	findings, err := RSSJob{State: st, Client: srv.Client()}.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("baseline fetch produced findings: %+v", findings)
	}
	if got := st.LoadSubscriptions("u1")[0].LastGUID; got != "guid-only" {
		t.Errorf("last_guid = %q", got)
	}
}

func TestRSSJobSkipsBrokenFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSubscriptions("u1", []state.Subscription{{ID: 1, URL: srv.URL, LastGUID: "g"}}); err != nil {
		t.Fatal(err)
	}

	findings, err := RSSJob{State: st, Client: srv.Client()}.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %+v", findings)
	}
}

func TestReminderJobSweep(t *testing.T) {
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	if err := st.SaveReminders("u1", []state.Reminder{
		{ID: 1, Text: "water the plants", DueAt: past},
		{ID: 2, Text: "standup", DueAt: past, Repeat: "daily"},
		{ID: 3, Text: "later", DueAt: future},
		{ID: 4, Text: "already done", DueAt: past, Done: true},
	}); err != nil {
		t.Fatal(err)
	}

	findings, err := ReminderJob{State: st}.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %+v", findings)
	}

	reminders := st.LoadReminders("u1")
	if !reminders[0].Done {
		t.Error("one-shot reminder not marked done")
	}
	if reminders[1].Done {
		t.Error("repeating reminder marked done")
	}
	advanced, err := time.Parse(time.RFC3339, reminders[1].DueAt)
	if err != nil || !advanced.After(time.Now()) {
		t.Errorf("daily reminder not advanced: %q", reminders[1].DueAt)
	}
}

func TestWatchlistJobOncePerDay(t *testing.T) {
	st, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveWatchlist("u1", []state.WatchlistEntry{
		{Symbol: "AAPL"}, {Symbol: "NVDA"},
	}); err != nil {
		t.Fatal(err)
	}

	job := WatchlistJob{State: st}

	findings, err := job.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || !strings.Contains(findings[0].Note, "AAPL, NVDA") {
		t.Fatalf("findings = %+v", findings)
	}

	// Same-day rerun is silent; yesterday's run fires again.
	if got, _ := job.Run(context.Background(), "u1", time.Now()); len(got) != 0 {
		t.Errorf("same-day findings = %+v", got)
	}
	if got, _ := job.Run(context.Background(), "u1", time.Now().Add(-25*time.Hour)); len(got) != 1 {
		t.Errorf("next-day findings = %+v", got)
	}
}

type failingCompactor struct{}

func (failingCompactor) Compact(context.Context) error {
	return fmt.Errorf("index rebuild blew up")
}

func TestCompactionJobSurfacesFailure(t *testing.T) {
	findings, err := CompactionJob{Memory: failingCompactor{}}.Run(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || !strings.Contains(findings[0].Note, "compaction failed") {
		t.Errorf("findings = %+v", findings)
	}

	// nil compactor is a no-op
	findings, err = CompactionJob{}.Run(context.Background(), "u1", time.Time{})
	if err != nil || len(findings) != 0 {
		t.Errorf("findings = %+v, err = %v", findings, err)
	}
}
