package achievement

import (
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
)

// Status is one catalog entry as seen by a particular user.
type Status struct {
	Definition
	Earned bool `json:"earned"`
}

// View projects the catalog onto stats. Earned state comes only from the
// stored achievement set.
func View(stats *progress.UserStats) []Status {
	out := make([]Status, len(catalog))
	for i, def := range catalog {
		out[i] = Status{Definition: def, Earned: stats != nil && stats.HasAchievement(string(def.ID))}
	}
	return out
}

// EarnedCount returns how many catalog entries stats holds. Unknown ids in
// the stored set are ignored.
func EarnedCount(stats *progress.UserStats) int {
	n := 0
	for _, s := range View(stats) {
		if s.Earned {
			n++
		}
	}
	return n
}
