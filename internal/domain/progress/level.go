package progress

import (
	"fmt"
	"strconv"
)

// PointsPerLevel is the width of every level.
const PointsPerLevel = 1000

// CalculateLevel derives the level from cumulative points. Level 1 covers
// 0-999 points, level 2 covers 1000-1999 and so on. Never below 1.
func CalculateLevel(points int) int {
	if points < 0 {
		return 1
	}
	level := points/PointsPerLevel + 1
	if level < 1 {
		return 1
	}
	return level
}

// LevelProgress describes where a point total sits inside its level.
type LevelProgress struct {
	Level         int `json:"level"`
	PointsInLevel int `json:"pointsInLevel"`
	PointsToNext  int `json:"pointsToNext"`
	// Percent is 0-99, the share of the current level already earned.
	Percent int `json:"percent"`
}

// ProgressForPoints computes LevelProgress for points.
func ProgressForPoints(points int) LevelProgress {
	if points < 0 {
		points = 0
	}
	in := points % PointsPerLevel
	return LevelProgress{
		Level:         CalculateLevel(points),
		PointsInLevel: in,
		PointsToNext:  PointsPerLevel - in,
		Percent:       in * 100 / PointsPerLevel,
	}
}

// FormatStudyTime renders minutes as "2h 5m", or "45m" below an hour.
func FormatStudyTime(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	hours, mins := minutes/60, minutes%60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// FormatStudyHours renders minutes as hours with one decimal, for the hours leaderboard.
func FormatStudyHours(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return strconv.FormatFloat(float64(minutes)/60, 'f', 1, 64) + "h"
}

// FormatSessionDuration renders a session length. Sub-minute sessions only
// happen in demo mode and are shown in seconds.
func FormatSessionDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes", seconds/60)
	}
	hours, mins := seconds/3600, (seconds%3600)/60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// AverageSessionLength returns the integer mean session length in minutes.
func AverageSessionLength(totalStudyTimeMinutes, sessionsCompleted int) int {
	if sessionsCompleted <= 0 {
		return 0
	}
	return totalStudyTimeMinutes / sessionsCompleted
}
