// Package timeutil provides calendar helpers for the campus timezone.
// Streaks and weekly buckets are counted in local calendar days (midnight to midnight),
// never in rolling 24h windows, so every helper here works on local dates.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

var (
	locMu    sync.RWMutex
	location = time.UTC
)

// SetLocation sets the default campus location used by Now and the In* helpers.
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locMu.Lock()
	location = loc
	locMu.Unlock()
}

// LoadLocation resolves an IANA zone name and makes it the default location.
// An empty name keeps UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return Location(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	SetLocation(loc)
	return loc, nil
}

// Location returns the default campus location.
func Location() *time.Location {
	locMu.RLock()
	defer locMu.RUnlock()
	return location
}

// Now returns the current time in the campus location.
func Now() time.Time {
	return time.Now().In(Location())
}

// Local converts a time to the campus location.
func Local(t time.Time) time.Time {
	return t.In(Location())
}

// Date creates a midnight time in the campus location.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, Location())
}

// StartOfDay returns local midnight of t's day, in t's own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of t's day, in t's own location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

// StartOfWeek returns Monday 00:00 of t's ISO week, in t's own location.
func StartOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(t.AddDate(0, 0, -(weekday - 1)))
}

// IsSameDay checks if two times fall on the same calendar day in b's location.
func IsSameDay(a, b time.Time) bool {
	return CalendarDaysBetween(a, b) == 0
}

// CalendarDaysBetween returns the number of local midnights crossed going from
// `from` to `to`, measured in to's location. It is negative when `from` is on a
// later calendar day. DST transitions do not affect the result.
func CalendarDaysBetween(from, to time.Time) int {
	f := from.In(to.Location())
	fy, fm, fd := f.Date()
	ty, tm, td := to.Date()
	fromDay := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	toDay := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

// ═══════════════════════════════════════════════════════════════════════════
// Epoch milliseconds
// ═══════════════════════════════════════════════════════════════════════════

// FromEpochMillis converts stored epoch milliseconds into a time in loc.
// Zero means "never" and returns the zero time.
func FromEpochMillis(ms int64, loc *time.Location) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	if loc == nil {
		loc = Location()
	}
	return time.UnixMilli(ms).In(loc)
}

// ToEpochMillis converts a time into epoch milliseconds; the zero time becomes 0.
func ToEpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatLocalISO is ISO-8601 without a zone, as used by the event API.
	FormatLocalISO = "2006-01-02T15:04:05"
	// FormatHumanDate is a human-readable format.
	FormatHumanDate = "2 January 2006"
)

// ParseLocalISO parses an ISO-8601 datetime without zone in the campus location.
// Values that do carry a zone or fractional seconds are accepted too.
func ParseLocalISO(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(FormatLocalISO, value, Location()); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", value, Location()); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local datetime %q: %w", value, err)
	}
	return t.In(Location()), nil
}

// FormatRelative returns a human-readable relative time string.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return "upcoming"
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(d.Hours()))
	}
	days := CalendarDaysBetween(t, now)
	if days == 1 {
		return "yesterday"
	}
	return fmt.Sprintf("%d days ago", days)
}
