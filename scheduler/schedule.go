package scheduler

import (
	"fmt"
	"time"

	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/influxdata/cron"
)

// DefaultRebuildAt is the default wall clock time of the daily rebuild.
const DefaultRebuildAt = "12:00:00"

// Schedule fires once a day at a fixed wall clock time in a location.
type Schedule struct {
	at     string
	parsed cron.Parsed
	loc    *time.Location
}

// ParseSchedule parses a HH:MM:SS time of day interpreted in loc.
func ParseSchedule(at string, loc *time.Location) (*Schedule, error) {
	const op = "scheduler.ParseSchedule"

	t, err := time.Parse("15:04:05", at)
	if err != nil {
		return nil, errors.Errorf(errors.EInvalid, op, "rebuild time %q is not HH:MM:SS", at)
	}
	parsed, err := cron.ParseUTC(fmt.Sprintf("%d %d %d * * *", t.Second(), t.Minute(), t.Hour()))
	if err != nil {
		return nil, errors.Wrap(err, errors.EInvalid, op, fmt.Sprintf("rebuild time %q", at))
	}
	if loc == nil {
		loc = time.Local
	}
	return &Schedule{at: at, parsed: parsed, loc: loc}, nil
}

// Next returns the first firing strictly after now. It is computed from the
// wall clock of now, so it follows clock and time zone changes between calls.
func (s *Schedule) Next(now time.Time) (time.Time, error) {
	// The cron expression is evaluated on a UTC clock showing the local wall
	// time, then the result is placed back in the location.
	wall := now.In(s.loc)
	from := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), time.UTC)
	for i := 0; i < 3; i++ {
		n, err := s.parsed.Next(from)
		if err != nil {
			return time.Time{}, errors.Wrap(err, errors.EInternal, "scheduler.Next", "compute next rebuild")
		}
		next := time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), n.Minute(), n.Second(), 0, s.loc)
		if next.After(now) {
			return next, nil
		}
		// A skipped or repeated wall clock hour put the firing in the past.
		from = n
	}
	return time.Time{}, errors.Errorf(errors.EInternal, "scheduler.Next", "no rebuild time after %s", now)
}

func (s *Schedule) String() string { return s.at }
