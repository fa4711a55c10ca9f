package progress

// consistencyWindowDays is the trailing window of two full weeks.
const consistencyWindowDays = 2 * DaysPerWeek

// ConsistencyScore rates how many of the last two weeks' days were active,
// from 0 to 100. Each week contributes at most DaysPerWeek days.
func ConsistencyScore(studyDaysByWeek map[string]int, current, previous WeekID) int {
	days := capDays(studyDaysByWeek[string(current)]) + capDays(studyDaysByWeek[string(previous)])
	score := days * 100 / consistencyWindowDays
	if score > MaxConsistencyScore {
		return MaxConsistencyScore
	}
	return score
}

func capDays(days int) int {
	switch {
	case days < 0:
		return 0
	case days > DaysPerWeek:
		return DaysPerWeek
	default:
		return days
	}
}
