package scheduler

import (
	"fmt"
	"time"

	cron "github.com/netresearch/go-cron"
)

// Crontab is a parsed 5-field cron expression (minute hour dom month dow).
type Crontab struct {
	spec     string
	schedule cron.Schedule
}

var fiveField = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCrontab parses a 5-field cron expression. Seconds and descriptors
// like @hourly are rejected; scheduled_tasks.md entries are minute-grained.
func ParseCrontab(spec string) (*Crontab, error) {
	schedule, err := fiveField.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse crontab %q: %w", spec, err)
	}
	return &Crontab{spec: spec, schedule: schedule}, nil
}

// Next returns the first activation strictly after t.
func (c *Crontab) Next(t time.Time) time.Time {
	return c.schedule.Next(t)
}

// Matches reports whether t falls in an activation minute. The tick runs
// more often than once a minute, so matching is on the truncated minute.
func (c *Crontab) Matches(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return c.schedule.Next(minute.Add(-time.Minute)).Equal(minute)
}

func (c *Crontab) String() string {
	return c.spec
}
