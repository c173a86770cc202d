package scheduler

import (
	"testing"
	"time"
)

func TestParseCrontab(t *testing.T) {
	if _, err := ParseCrontab("*/5 * * * *"); err != nil {
		t.Fatalf("ParseCrontab: %v", err)
	}
	for _, bad := range []string{"not a cron", "* * * *", "0 0 * * * *", "@hourly"} {
		if _, err := ParseCrontab(bad); err == nil {
			t.Errorf("ParseCrontab(%q) accepted", bad)
		}
	}
}

func TestCrontabNext(t *testing.T) {
	c, err := ParseCrontab("0 12 * * *")
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if next := c.Next(base); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestCrontabMatchesMinute(t *testing.T) {
	c, err := ParseCrontab("30 14 * * *")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC), true},
		{time.Date(2026, 8, 25, 14, 30, 45, 0, time.UTC), true}, // mid-minute tick
		{time.Date(2026, 8, 25, 14, 31, 0, 0, time.UTC), false},
		{time.Date(2026, 8, 25, 14, 29, 59, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := c.Matches(tc.at); got != tc.want {
			t.Errorf("Matches(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestCrontabStep(t *testing.T) {
	c, err := ParseCrontab("*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Matches(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)) {
		t.Error("no match at :00")
	}
	if !c.Matches(time.Date(2026, 8, 25, 10, 5, 0, 0, time.UTC)) {
		t.Error("no match at :05")
	}
	if c.Matches(time.Date(2026, 8, 25, 10, 3, 0, 0, time.UTC)) {
		t.Error("match at :03")
	}
}
