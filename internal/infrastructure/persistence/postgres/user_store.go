package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER STORE
// ══════════════════════════════════════════════════════════════════════════════

// UserStore implements progress.Store on the users table.
type UserStore struct {
	conn *Connection
	now  func() time.Time
}

// NewUserStore creates a new UserStore.
func NewUserStore(conn *Connection) *UserStore {
	return &UserStore{conn: conn, now: timeutil.Now}
}

var _ progress.Store = (*UserStore)(nil)

// columns maps document fields to table columns.
var columns = map[progress.Field]string{
	progress.FieldUsername:              "username",
	progress.FieldPoints:                "points",
	progress.FieldTotalStudyTimeMinutes: "total_study_time_minutes",
	progress.FieldSessionsCompleted:     "sessions_completed",
	progress.FieldCompletedSessions:     "completed_sessions",
	progress.FieldStreakDays:            "streak_days",
	progress.FieldMaxStreakDays:         "max_streak_days",
	progress.FieldLastStudyDate:         "last_study_date_epoch_millis",
	progress.FieldConsistencyScore:      "consistency_score",
	progress.FieldEventsAttended:        "events_attended",
	progress.FieldStudyDaysByWeek:       "study_days_by_week",
	progress.FieldPointsByWeek:          "points_by_week",
	progress.FieldAchievements:          "achievements",
	progress.FieldFriends:               "friends",
	progress.FieldBookedTickets:         "booked_tickets",
}

const userColumns = `user_id, schema_version, username, points, total_study_time_minutes,
	sessions_completed, completed_sessions, streak_days, max_streak_days,
	last_study_date_epoch_millis, consistency_score, events_attended,
	study_days_by_week, points_by_week, achievements, friends, booked_tickets,
	created_at, updated_at`

// GetUser implements progress.Store.
func (s *UserStore) GetUser(ctx context.Context, userID string) (*progress.UserStats, error) {
	q, err := s.conn.Querier()
	if err != nil {
		return nil, err
	}
	return scanUser(q.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE user_id = $1", userID))
}

// CreateUser implements progress.Store.
func (s *UserStore) CreateUser(ctx context.Context, stats *progress.UserStats) error {
	if err := stats.Validate(); err != nil {
		return err
	}
	u := stats.Clone()
	u.Normalize()

	studyDays, err := json.Marshal(u.StudyDaysByWeek)
	if err != nil {
		return fmt.Errorf("failed to marshal study days: %w", err)
	}
	pointsByWeek, err := json.Marshal(u.PointsByWeek)
	if err != nil {
		return fmt.Errorf("failed to marshal weekly points: %w", err)
	}

	q, err := s.conn.Querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		u.UserID, u.SchemaVersion, u.Username, u.Points, u.TotalStudyTimeMinutes,
		u.SessionsCompleted, u.CompletedSessions, u.StreakDays, u.MaxStreakDays,
		u.LastStudyDateEpochMillis, u.ConsistencyScore, u.EventsAttended,
		studyDays, pointsByWeek, u.Achievements, u.Friends, u.BookedTickets,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUserFields implements progress.Store.
func (s *UserStore) UpdateUserFields(ctx context.Context, userID string, updates ...progress.FieldUpdate) error {
	stmt, err := compileUpdate(userID, updates, s.now())
	if err != nil {
		return err
	}
	q, err := s.conn.Querier()
	if err != nil {
		return err
	}
	return stmt.exec(ctx, q)
}

// QueryUsersOrderedBy implements progress.Store. Ties are broken on the
// byte order of user_id so results match the in-process ranking.
func (s *UserStore) QueryUsersOrderedBy(ctx context.Context, field progress.Field, dir progress.Direction, limit int) ([]*progress.UserStats, error) {
	if !field.IsSortable() {
		return nil, shared.WrapError("progress", "Query", shared.ErrInvalidArgument, "field is not sortable", nil)
	}
	sql := fmt.Sprintf("SELECT %s FROM users ORDER BY %s %s, user_id COLLATE \"C\" ASC",
		userColumns, columns[field], direction(dir))
	args := []any{}
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	q, err := s.conn.Querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return scanUsers(rows)
}

// QueryUsersByID implements progress.Store.
func (s *UserStore) QueryUsersByID(ctx context.Context, ids []string) ([]*progress.UserStats, error) {
	if len(ids) == 0 {
		return []*progress.UserStats{}, nil
	}
	q, err := s.conn.Querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, "SELECT "+userColumns+" FROM users WHERE user_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by id: %w", err)
	}
	return scanUsers(rows)
}

// RunAtomic implements progress.Store. A missing user rolls back every update.
func (s *UserStore) RunAtomic(ctx context.Context, ops ...progress.DocumentUpdate) error {
	if len(ops) == 0 {
		return shared.ErrEmptyUpdate
	}
	now := s.now()
	stmts := make([]compiledUpdate, 0, len(ops))
	for _, op := range ops {
		stmt, err := compileUpdate(op.UserID, op.Updates, now)
		if err != nil {
			return err
		}
		stmts = append(stmts, stmt)
	}

	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if err := stmt.exec(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func direction(dir progress.Direction) string {
	if dir == progress.Ascending {
		return "ASC"
	}
	return "DESC"
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE COMPILER
// Each FieldUpdate becomes an SQL expression over the column. Several updates
// to the same column nest, so the statement assigns every column once.
// ══════════════════════════════════════════════════════════════════════════════

type compiledUpdate struct {
	SQL  string
	Args []any

	// Guarded is set when the WHERE clause carries spend conditions, so a
	// missed row may mean an insufficient balance instead of a missing user.
	Guarded bool
}

func compileUpdate(userID string, updates []progress.FieldUpdate, now time.Time) (compiledUpdate, error) {
	if err := progress.ValidateUpdates(updates); err != nil {
		return compiledUpdate{}, err
	}

	args := []any{userID}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	exprs := make(map[string]string, len(updates))
	var order []string
	for _, u := range updates {
		col := columns[u.Field]
		prev, seen := exprs[col]
		if !seen {
			prev = col
			order = append(order, col)
		}

		var next string
		switch u.Op {
		case progress.OpSet:
			if u.Field.Kind() == progress.KindString {
				next = param(u.Str)
			} else {
				next = param(u.Int)
			}
		case progress.OpIncrement:
			next = fmt.Sprintf("(%s + %s::bigint)", prev, param(u.Int))
		case progress.OpSpend:
			next = fmt.Sprintf("(%s - %s::bigint)", prev, param(u.Int))
		case progress.OpArrayUnion:
			next = fmt.Sprintf(
				"array_cat(%[1]s, ARRAY(SELECT v FROM unnest(%[2]s::text[]) WITH ORDINALITY AS t(v, i) WHERE NOT (v = ANY(%[1]s)) ORDER BY i))",
				prev, param(shared.UnionStrings(nil, u.Values...)))
		case progress.OpArrayRemove:
			next = fmt.Sprintf(
				"ARRAY(SELECT v FROM unnest(%[1]s) WITH ORDINALITY AS t(v, i) WHERE NOT (v = ANY(%[2]s::text[])) ORDER BY i)",
				prev, param(u.Values))
		case progress.OpMapIncrement:
			key, delta := param(u.Key), param(u.Int)
			next = fmt.Sprintf(
				"jsonb_set(%[1]s, ARRAY[%[2]s::text], to_jsonb(COALESCE((%[1]s ->> %[2]s::text)::bigint, 0) + %[3]s::bigint))",
				prev, key, delta)
		}
		exprs[col] = next
	}

	sets := make([]string, 0, len(order)+1)
	for _, col := range order {
		sets = append(sets, col+" = "+exprs[col])
	}
	sets = append(sets, "updated_at = "+param(now))

	// Spend guards compare against the row before the update.
	where := "user_id = $1"
	totals := progress.SpendTotals(updates)
	for _, col := range order {
		for field, total := range totals {
			if columns[field] == col {
				where += fmt.Sprintf(" AND %s >= %s::bigint", col, param(total))
			}
		}
	}

	return compiledUpdate{
		SQL:     "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE " + where,
		Args:    args,
		Guarded: len(totals) > 0,
	}, nil
}

func (c compiledUpdate) exec(ctx context.Context, q Querier) error {
	tag, err := q.Exec(ctx, c.SQL, c.Args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if !c.Guarded {
		return shared.ErrUserNotFound
	}

	var exists bool
	if err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)", c.Args[0]).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return shared.ErrUserNotFound
	}
	return shared.ErrInsufficientPoints
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func scanUser(row pgx.Row) (*progress.UserStats, error) {
	var u progress.UserStats
	var studyDays, pointsByWeek []byte

	err := row.Scan(
		&u.UserID, &u.SchemaVersion, &u.Username, &u.Points, &u.TotalStudyTimeMinutes,
		&u.SessionsCompleted, &u.CompletedSessions, &u.StreakDays, &u.MaxStreakDays,
		&u.LastStudyDateEpochMillis, &u.ConsistencyScore, &u.EventsAttended,
		&studyDays, &pointsByWeek, &u.Achievements, &u.Friends, &u.BookedTickets,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if err := decodeWeekMap(studyDays, &u.StudyDaysByWeek); err != nil {
		return nil, err
	}
	if err := decodeWeekMap(pointsByWeek, &u.PointsByWeek); err != nil {
		return nil, err
	}
	u.Normalize()
	return &u, nil
}

func scanUsers(rows pgx.Rows) ([]*progress.UserStats, error) {
	defer rows.Close()
	users := make([]*progress.UserStats, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}

func decodeWeekMap(data []byte, dst *map[string]int) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode weekly map: %w", err)
	}
	return nil
}
