package progress

import (
	"context"
	"fmt"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT STORE CONTRACT
// Implementations live in infrastructure/persistence (memory, postgres, mongo).
// ══════════════════════════════════════════════════════════════════════════════

// Store is the document store holding one UserStats per user.
type Store interface {
	// GetUser returns the user record.
	// Returns shared.ErrUserNotFound if it does not exist.
	GetUser(ctx context.Context, userID string) (*UserStats, error)

	// CreateUser writes a new record.
	// Returns shared.ErrUserAlreadyExists if the id is taken.
	CreateUser(ctx context.Context, stats *UserStats) error

	// UpdateUserFields applies field-level updates to one record atomically.
	// Returns shared.ErrUserNotFound if it does not exist.
	UpdateUserFields(ctx context.Context, userID string, updates ...FieldUpdate) error

	// QueryUsersOrderedBy returns at most limit records sorted on a numeric field.
	// Equal values are ordered by user id ascending.
	QueryUsersOrderedBy(ctx context.Context, field Field, dir Direction, limit int) ([]*UserStats, error)

	// QueryUsersByID returns the records that exist among ids, in no particular order.
	QueryUsersByID(ctx context.Context, ids []string) ([]*UserStats, error)

	// RunAtomic applies updates to several records as one all-or-nothing unit.
	// If any record is missing nothing is written and shared.ErrUserNotFound is returned.
	RunAtomic(ctx context.Context, ops ...DocumentUpdate) error
}

// Direction is a sort direction.
type Direction int

const (
	Descending Direction = iota
	Ascending
)

// ─────────────────────────────────────────────────────────────────────────────
// Fields
// ─────────────────────────────────────────────────────────────────────────────

// Field names a UserStats attribute by its document key.
type Field string

const (
	FieldUsername              Field = "username"
	FieldPoints                Field = "points"
	FieldTotalStudyTimeMinutes Field = "totalStudyTimeMinutes"
	FieldSessionsCompleted     Field = "sessionsCompleted"
	FieldCompletedSessions     Field = "completedSessions"
	FieldStreakDays            Field = "streakDays"
	FieldMaxStreakDays         Field = "maxStreakDays"
	FieldLastStudyDate         Field = "lastStudyDateEpochMillis"
	FieldConsistencyScore      Field = "consistencyScore"
	FieldEventsAttended        Field = "eventsAttended"
	FieldStudyDaysByWeek       Field = "studyDaysByWeek"
	FieldPointsByWeek          Field = "pointsByWeek"
	FieldAchievements          Field = "achievements"
	FieldFriends               Field = "friends"
	FieldBookedTickets         Field = "bookedTickets"
)

// FieldKind groups fields by the operations they accept.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindInt
	KindString
	KindSet
	KindMap
)

var fieldKinds = map[Field]FieldKind{
	FieldUsername:              KindString,
	FieldPoints:                KindInt,
	FieldTotalStudyTimeMinutes: KindInt,
	FieldSessionsCompleted:     KindInt,
	FieldCompletedSessions:     KindInt,
	FieldStreakDays:            KindInt,
	FieldMaxStreakDays:         KindInt,
	FieldLastStudyDate:         KindInt,
	FieldConsistencyScore:      KindInt,
	FieldEventsAttended:        KindInt,
	FieldStudyDaysByWeek:       KindMap,
	FieldPointsByWeek:          KindMap,
	FieldAchievements:          KindSet,
	FieldFriends:               KindSet,
	FieldBookedTickets:         KindSet,
}

// Kind returns the field kind, KindUnknown for unknown fields.
func (f Field) Kind() FieldKind {
	return fieldKinds[f]
}

// IsSortable reports whether the field can order a query.
func (f Field) IsSortable() bool {
	return f.Kind() == KindInt
}

// ─────────────────────────────────────────────────────────────────────────────
// Updates
// ─────────────────────────────────────────────────────────────────────────────

// Op is a field-level update operation.
type Op int

const (
	OpSet Op = iota + 1
	OpIncrement
	OpArrayUnion
	OpArrayRemove
	OpMapIncrement
	OpSpend
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpIncrement:
		return "increment"
	case OpArrayUnion:
		return "array_union"
	case OpArrayRemove:
		return "array_remove"
	case OpMapIncrement:
		return "map_increment"
	case OpSpend:
		return "spend"
	default:
		return "unknown"
	}
}

// FieldUpdate is one operation on one field.
type FieldUpdate struct {
	Field Field
	Op    Op

	// Int is the value for OpSet on int fields and the delta for increments.
	Int int64
	// Str is the value for OpSet on string fields.
	Str string
	// Key is the map key for OpMapIncrement.
	Key string
	// Values are the members for array union/remove.
	Values []string
}

// SetInt sets an integer field.
func SetInt(field Field, value int64) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpSet, Int: value}
}

// SetString sets a string field.
func SetString(field Field, value string) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpSet, Str: value}
}

// Increment adds delta (possibly negative) to an integer field.
func Increment(field Field, delta int64) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpIncrement, Int: delta}
}

// Spend subtracts amount from an integer field only when the stored value is
// at least amount. Otherwise the whole update is rejected with
// shared.ErrInsufficientPoints and nothing is written.
func Spend(field Field, amount int64) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpSpend, Int: amount}
}

// ArrayUnion adds values to a set field, skipping members already present.
func ArrayUnion(field Field, values ...string) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpArrayUnion, Values: values}
}

// ArrayRemove removes values from a set field.
func ArrayRemove(field Field, values ...string) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpArrayRemove, Values: values}
}

// MapIncrement adds delta to one key of a map field, creating it at zero.
func MapIncrement(field Field, key string, delta int64) FieldUpdate {
	return FieldUpdate{Field: field, Op: OpMapIncrement, Key: key, Int: delta}
}

// Validate checks that the operation fits the field.
func (u FieldUpdate) Validate() error {
	kind := u.Field.Kind()
	ok := false
	switch u.Op {
	case OpSet:
		ok = kind == KindInt || kind == KindString
	case OpIncrement:
		ok = kind == KindInt
	case OpArrayUnion, OpArrayRemove:
		ok = kind == KindSet && len(u.Values) > 0
	case OpMapIncrement:
		ok = kind == KindMap && u.Key != ""
	case OpSpend:
		ok = kind == KindInt && u.Int > 0
	}
	if kind == KindUnknown {
		return shared.WrapError("progress", "Update", shared.ErrInvalidArgument,
			"unknown field", fmt.Errorf("%q", u.Field))
	}
	if !ok {
		return shared.WrapError("progress", "Update", shared.ErrInvalidArgument,
			"operation not allowed on field", fmt.Errorf("%s on %q", u.Op, u.Field))
	}
	return nil
}

// ValidateUpdates validates a non-empty update list.
func ValidateUpdates(updates []FieldUpdate) error {
	if len(updates) == 0 {
		return shared.ErrEmptyUpdate
	}
	for _, u := range updates {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SpendTotals sums the OpSpend amounts per field. Stores compare each total
// against the stored value before anything is written.
func SpendTotals(updates []FieldUpdate) map[Field]int64 {
	var totals map[Field]int64
	for _, u := range updates {
		if u.Op != OpSpend {
			continue
		}
		if totals == nil {
			totals = make(map[Field]int64)
		}
		totals[u.Field] += u.Int
	}
	return totals
}

// DocumentUpdate groups the updates for one user inside RunAtomic.
type DocumentUpdate struct {
	UserID  string
	Updates []FieldUpdate
}

// Apply mutates s in place. Updates are validated first, so either all of
// them apply or none do.
func (s *UserStats) Apply(updates ...FieldUpdate) error {
	if err := ValidateUpdates(updates); err != nil {
		return err
	}
	s.Normalize()
	for field, total := range SpendTotals(updates) {
		if s.intField(field).get() < total {
			return shared.ErrInsufficientPoints
		}
	}
	for _, u := range updates {
		switch u.Op {
		case OpSet:
			if u.Field.Kind() == KindString {
				s.setString(u.Field, u.Str)
			} else {
				s.intField(u.Field).set(u.Int)
			}
		case OpIncrement:
			ref := s.intField(u.Field)
			ref.set(ref.get() + u.Int)
		case OpSpend:
			ref := s.intField(u.Field)
			ref.set(ref.get() - u.Int)
		case OpArrayUnion:
			set := s.setField(u.Field)
			*set = shared.UnionStrings(*set, u.Values...)
		case OpArrayRemove:
			set := s.setField(u.Field)
			*set = shared.RemoveStrings(*set, u.Values...)
		case OpMapIncrement:
			m := s.mapField(u.Field)
			m[u.Key] += int(u.Int)
		}
	}
	return nil
}

// intRef points at an int or int64 field so both share one update path.
type intRef struct {
	i   *int
	i64 *int64
}

func (r intRef) get() int64 {
	if r.i64 != nil {
		return *r.i64
	}
	return int64(*r.i)
}

func (r intRef) set(v int64) {
	if r.i64 != nil {
		*r.i64 = v
		return
	}
	*r.i = int(v)
}

func (s *UserStats) intField(f Field) intRef {
	switch f {
	case FieldPoints:
		return intRef{i: &s.Points}
	case FieldTotalStudyTimeMinutes:
		return intRef{i: &s.TotalStudyTimeMinutes}
	case FieldSessionsCompleted:
		return intRef{i: &s.SessionsCompleted}
	case FieldCompletedSessions:
		return intRef{i: &s.CompletedSessions}
	case FieldStreakDays:
		return intRef{i: &s.StreakDays}
	case FieldMaxStreakDays:
		return intRef{i: &s.MaxStreakDays}
	case FieldLastStudyDate:
		return intRef{i64: &s.LastStudyDateEpochMillis}
	case FieldConsistencyScore:
		return intRef{i: &s.ConsistencyScore}
	case FieldEventsAttended:
		return intRef{i: &s.EventsAttended}
	}
	panic(fmt.Sprintf("progress: %q is not an int field", f))
}

// IntValue reads an int field, used by stores that sort in memory.
func (s *UserStats) IntValue(f Field) int64 {
	return s.intField(f).get()
}

func (s *UserStats) setString(f Field, v string) {
	if f == FieldUsername {
		s.Username = v
	}
}

func (s *UserStats) setField(f Field) *[]string {
	switch f {
	case FieldAchievements:
		return &s.Achievements
	case FieldFriends:
		return &s.Friends
	case FieldBookedTickets:
		return &s.BookedTickets
	}
	panic(fmt.Sprintf("progress: %q is not a set field", f))
}

func (s *UserStats) mapField(f Field) map[string]int {
	switch f {
	case FieldStudyDaysByWeek:
		return s.StudyDaysByWeek
	case FieldPointsByWeek:
		return s.PointsByWeek
	}
	panic(fmt.Sprintf("progress: %q is not a map field", f))
}
