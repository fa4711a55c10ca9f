package progress

import (
	"time"

	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// StreakUpdate is the outcome of recording a completed session against a streak.
type StreakUpdate struct {
	// StreakDays is the new consecutive-day count.
	StreakDays int

	// Increased is true for a first session and for the first session of the
	// day after the previous study day.
	Increased bool

	// DayDifference is the number of calendar days since the last study day;
	// -1 when the user never studied.
	DayDifference int

	// Broken is true when an existing streak of more than one day was reset.
	Broken bool
}

// UpdateStreak computes the streak after a session completed at now.
// Calendar days are counted in now's location, midnight to midnight.
//
//	never studied  -> 1, increased
//	same day       -> unchanged
//	next day       -> +1, increased
//	later / before -> reset to 1
func UpdateStreak(stats *UserStats, now time.Time) StreakUpdate {
	if !stats.HasStudied() {
		return StreakUpdate{StreakDays: 1, Increased: true, DayDifference: -1}
	}

	last := stats.LastStudyDate(now.Location())
	diff := timeutil.CalendarDaysBetween(last, now)

	switch diff {
	case 0:
		return StreakUpdate{StreakDays: stats.StreakDays, DayDifference: 0}
	case 1:
		return StreakUpdate{StreakDays: stats.StreakDays + 1, Increased: true, DayDifference: 1}
	default:
		// Gaps and backdated timestamps (clock skew) both break the streak.
		return StreakUpdate{
			StreakDays:    1,
			DayDifference: diff,
			Broken:        stats.StreakDays > 1,
		}
	}
}

// RaiseMaxStreak returns the best streak after reaching streakDays.
func RaiseMaxStreak(maxStreakDays, streakDays int) int {
	if streakDays > maxStreakDays {
		return streakDays
	}
	return maxStreakDays
}

// IsStreakAlive reports whether the streak still counts at now, that is the
// user studied today or yesterday.
func IsStreakAlive(stats *UserStats, now time.Time) bool {
	if !stats.HasStudied() || stats.StreakDays == 0 {
		return false
	}
	diff := timeutil.CalendarDaysBetween(stats.LastStudyDate(now.Location()), now)
	return diff == 0 || diff == 1
}
