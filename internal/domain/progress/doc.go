// Package progress holds the user progression model of UniVerse.
//
// It defines the mutable per-user record (UserStats) and the pure rules that
// derive everything else from it:
//
//   - Week ids: ISO-8601 "YYYY-WW" keys used to bucket activity
//   - Streaks: consecutive local calendar days with a completed session
//   - Consistency: share of active days over the current and previous week
//   - Levels and display formatting of study time
//
// The package also declares the document-store contract (Store) through which
// application services read and mutate user records. Implementations live in
// infrastructure/persistence.
//
// # Field-level updates
//
// Writers never overwrite whole documents. Every mutation is a list of
// FieldUpdate values (set, increment, array union/remove, map increment), so
// a friend-list change and a settlement running at the same time do not
// clobber each other's fields:
//
//	err := store.UpdateUserFields(ctx, userID,
//	    progress.Increment(progress.FieldPoints, 50),
//	    progress.MapIncrement(progress.FieldStudyDaysByWeek, string(week), 1),
//	)
//
// Mutual friend changes go through RunAtomic so both documents change or neither does.
package progress
