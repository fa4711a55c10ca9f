package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job every Interval, measured from the previous start.
type IntervalSchedule struct {
	Interval time.Duration

	// Immediate runs the first execution right after Start.
	Immediate bool
}

// Every returns an IntervalSchedule. Non-positive intervals become one minute.
func Every(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntervalSchedule{Interval: interval}
}

// StartImmediately returns a copy that fires on the first tick.
func (s *IntervalSchedule) StartImmediately() *IntervalSchedule {
	c := *s
	c.Immediate = true
	return &c
}

// First implements Schedule.
func (s *IntervalSchedule) First(t time.Time) time.Time {
	if s.Immediate {
		return t
	}
	return s.Next(t)
}

// Next implements Schedule.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String implements Schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}
