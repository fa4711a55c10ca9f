package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one forward schema step.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	AppliedAt time.Time
	IsApplied bool
}

const migrationsTable = "schema_migrations"

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	q, err := m.conn.Querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	q, err := m.conn.Querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, "SELECT version, applied_at FROM "+migrationsTable+" ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO "+migrationsTable+" (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Status lists the embedded migrations with their applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users", UpSQL: migration001Users},
		{Version: 2, Name: "create_study_sessions", UpSQL: migration002StudySessions},
		{Version: 3, Name: "create_credentials", UpSQL: migration003Credentials},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA
// ══════════════════════════════════════════════════════════════════════════════

const migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    user_id                      TEXT PRIMARY KEY,
    schema_version               INTEGER NOT NULL DEFAULT 2,
    username                     TEXT NOT NULL,
    points                       BIGINT NOT NULL DEFAULT 0,
    total_study_time_minutes     BIGINT NOT NULL DEFAULT 0,
    sessions_completed           BIGINT NOT NULL DEFAULT 0,
    completed_sessions           BIGINT NOT NULL DEFAULT 0,
    streak_days                  BIGINT NOT NULL DEFAULT 0,
    max_streak_days              BIGINT NOT NULL DEFAULT 0,
    last_study_date_epoch_millis BIGINT NOT NULL DEFAULT 0,
    consistency_score            BIGINT NOT NULL DEFAULT 0,
    events_attended              BIGINT NOT NULL DEFAULT 0,
    study_days_by_week           JSONB NOT NULL DEFAULT '{}'::jsonb,
    points_by_week               JSONB NOT NULL DEFAULT '{}'::jsonb,
    achievements                 TEXT[] NOT NULL DEFAULT '{}',
    friends                      TEXT[] NOT NULL DEFAULT '{}',
    booked_tickets               TEXT[] NOT NULL DEFAULT '{}',
    created_at                   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at                   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_points ON users(points DESC, user_id COLLATE "C");
CREATE INDEX IF NOT EXISTS idx_users_study_time ON users(total_study_time_minutes DESC, user_id COLLATE "C");
CREATE INDEX IF NOT EXISTS idx_users_streak ON users(streak_days DESC, user_id COLLATE "C");
`

const migration002StudySessions = `
CREATE TABLE IF NOT EXISTS study_sessions (
    id              TEXT PRIMARY KEY,
    host_id         TEXT NOT NULL,
    participant_ids TEXT[] NOT NULL DEFAULT '{}',
    document        JSONB NOT NULL,
    created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_participants ON study_sessions USING GIN (participant_ids);
CREATE INDEX IF NOT EXISTS idx_study_sessions_created_at ON study_sessions(created_at DESC);
`

const migration003Credentials = `
CREATE TABLE IF NOT EXISTS credentials (
    user_id    TEXT PRIMARY KEY,
    token_hash TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`
