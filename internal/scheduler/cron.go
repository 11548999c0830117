package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts the standard five fields (minute, hour, day of
// month, month, day of week). Job cadences never need finer than a
// minute: the tick loop itself runs on a sub-minute interval.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a parsed job cadence. Config carries cadences as cron
// strings (monitor scan, mailbox purge, board archive); Schedule is the
// form the tick loop evaluates.
type Schedule struct {
	spec string
	impl cron.Schedule
}

// ParseSchedule parses a five-field cron string.
func ParseSchedule(spec string) (*Schedule, error) {
	impl, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Schedule{spec: spec, impl: impl}, nil
}

// Next returns the first activation strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.impl.Next(t)
}

// Due reports whether t falls inside an activation minute. Activations
// are minute-granular, so t is truncated and compared against the
// activation following the previous minute.
func (s *Schedule) Due(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return s.impl.Next(minute.Add(-time.Minute)).Equal(minute)
}

// String returns the original cron spec.
func (s *Schedule) String() string {
	return s.spec
}
