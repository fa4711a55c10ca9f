package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DaysPerWeek caps the read side of the study-day histogram.
const DaysPerWeek = 7

// WeekID identifies an ISO-8601 week as "YYYY-WW" (ISO year, two-digit week).
type WeekID string

// WeekOf returns the ISO week containing t, evaluated in t's location.
// The ISO year is used, so Monday 2024-12-30 belongs to "2025-01".
func WeekOf(t time.Time) WeekID {
	year, week := t.ISOWeek()
	return WeekID(fmt.Sprintf("%d-%02d", year, week))
}

// ParseWeekID validates a "YYYY-WW" key.
func ParseWeekID(s string) (WeekID, error) {
	yearPart, weekPart, ok := strings.Cut(s, "-")
	if !ok || len(weekPart) != 2 {
		return "", fmt.Errorf("week id %q: want YYYY-WW", s)
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil || year < 1 {
		return "", fmt.Errorf("week id %q: bad year", s)
	}
	week, err := strconv.Atoi(weekPart)
	if err != nil || week < 1 || week > weeksInYear(year) {
		return "", fmt.Errorf("week id %q: bad week", s)
	}
	return WeekID(s), nil
}

// Start returns Monday 00:00 UTC of the week.
func (w WeekID) Start() (time.Time, error) {
	if _, err := ParseWeekID(string(w)); err != nil {
		return time.Time{}, err
	}
	yearPart, weekPart, _ := strings.Cut(string(w), "-")
	year, _ := strconv.Atoi(yearPart)
	week, _ := strconv.Atoi(weekPart)

	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := int(jan4.Weekday())
	if offset == 0 {
		offset = 7
	}
	monday := jan4.AddDate(0, 0, 1-offset)
	return monday.AddDate(0, 0, (week-1)*7), nil
}

// Previous returns the ISO week before w. Invalid ids yield "".
func (w WeekID) Previous() WeekID {
	start, err := w.Start()
	if err != nil {
		return ""
	}
	return WeekOf(start.AddDate(0, 0, -7))
}

// String implements fmt.Stringer.
func (w WeekID) String() string {
	return string(w)
}

// CurrentAndPrevious returns the week of now and the one before it.
func CurrentAndPrevious(now time.Time) (WeekID, WeekID) {
	return WeekOf(now), WeekOf(now.AddDate(0, 0, -7))
}

func weeksInYear(year int) int {
	// December 28th is always in the last ISO week of its year.
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}
