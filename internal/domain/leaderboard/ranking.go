package leaderboard

import (
	"sort"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is a sorted list of entries for one metric.
type Ranking struct {
	Metric  Metric  `json:"metric"`
	Scope   Scope   `json:"scope"`
	Entries []Entry `json:"entries"`
}

// Rank sorts users by metric descending and assigns ranks 1..N without gaps
// or shared positions. Equal values are ordered by user id ascending, so the
// result does not depend on input order. The entry whose id equals
// currentUserID, if any, is marked IsCurrentUser. Duplicate ids are ranked once.
func Rank(users []*progress.UserStats, metric Metric, currentUserID string) []Entry {
	entries := make([]Entry, 0, len(users))
	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		if _, dup := seen[u.UserID]; dup {
			continue
		}
		seen[u.UserID] = struct{}{}
		entries = append(entries, NewEntry(u))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		vi, vj := entries[i].Value(metric), entries[j].Value(metric)
		if vi != vj {
			return vi > vj
		}
		return entries[i].UserID < entries[j].UserID
	})

	for i := range entries {
		entries[i].Rank = Position(i + 1)
		entries[i].IsCurrentUser = currentUserID != "" && entries[i].UserID == currentUserID
	}
	return entries
}

// NewRanking ranks users into a Ranking.
func NewRanking(users []*progress.UserStats, metric Metric, scope Scope, currentUserID string) *Ranking {
	return &Ranking{Metric: metric, Scope: scope, Entries: Rank(users, metric, currentUserID)}
}

// Count returns the number of entries.
func (r *Ranking) Count() int {
	return len(r.Entries)
}

// Top returns the first n entries.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(r.Entries) {
		n = len(r.Entries)
	}
	out := make([]Entry, n)
	copy(out, r.Entries[:n])
	return out
}

// Find returns the entry for userID.
func (r *Ranking) Find(userID string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return Entry{}, false
}

// CurrentUser returns the requester's entry, if present.
func (r *Ranking) CurrentUser() (Entry, bool) {
	for _, e := range r.Entries {
		if e.IsCurrentUser {
			return e, true
		}
	}
	return Entry{}, false
}

// MarkCurrentUser returns a copy of r with IsCurrentUser set for userID only.
// Cached pages are shared between requesters, so the flag is applied per read.
func (r *Ranking) MarkCurrentUser(userID string) *Ranking {
	out := &Ranking{Metric: r.Metric, Scope: r.Scope, Entries: make([]Entry, len(r.Entries))}
	copy(out.Entries, r.Entries)
	for i := range out.Entries {
		out.Entries[i].IsCurrentUser = userID != "" && out.Entries[i].UserID == userID
	}
	return out
}
