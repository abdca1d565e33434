package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Summary is the subset of a stored reminder needed to describe it.
type Summary struct {
	ScheduleType string
	Hour         *int
	Minute       *int
	When         *int64
	RawTime      string
}

// Describe returns a short human summary such as "Daily at 07:00".
// It falls back to the raw time text, then to "Custom".
func Describe(s Summary, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	if s.ScheduleType == "daily" && s.Hour != nil && s.Minute != nil {
		return fmt.Sprintf("Daily at %02d:%02d", *s.Hour, *s.Minute)
	}
	if s.ScheduleType == "once" && s.When != nil && *s.When != 0 {
		return "Once at " + time.UnixMilli(*s.When).In(loc).Format("2006-01-02 15:04")
	}
	if s.RawTime != "" {
		return s.RawTime
	}
	return "Custom"
}

// NextDaily returns the first instant strictly after `after` whose wall-clock
// time in after's location is hour:minute.
func NextDaily(hour, minute int, after time.Time) (time.Time, error) {
	// Fixed zones without a tz database name cannot be expressed in CRON_TZ.
	name := after.Location().String()
	if _, err := time.LoadLocation(name); name == "" || err != nil {
		return nextDailyFallback(hour, minute, after), nil
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %d %d * * *", name, minute, hour))
	if err != nil {
		return time.Time{}, fmt.Errorf("building daily schedule %02d:%02d: %w", hour, minute, err)
	}
	return sched.Next(after), nil
}

func nextDailyFallback(hour, minute int, after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
