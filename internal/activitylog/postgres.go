package activitylog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the voice_activity table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_activity (
    id             BIGSERIAL PRIMARY KEY,
    tenant_id      TEXT NOT NULL,
    participant_id TEXT NOT NULL DEFAULT '',
    display_name   TEXT NOT NULL DEFAULT '',
    event          TEXT NOT NULL,
    from_room_id   TEXT NOT NULL DEFAULT '',
    to_room_id     TEXT NOT NULL DEFAULT '',
    action         TEXT NOT NULL DEFAULT 'noop',
    action_room_id TEXT NOT NULL DEFAULT '',
    suppressed     BOOLEAN NOT NULL DEFAULT FALSE,
    occurred_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_activity_tenant_time ON voice_activity(tenant_id, occurred_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given connection or
// pool. The caller is responsible for calling [PostgresStore.Migrate] before
// issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the voice_activity table and
// index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("activitylog: migrate: %w", err)
	}
	return nil
}

// Record implements [Store.Record].
func (s *PostgresStore) Record(ctx context.Context, e *Entry) error {
	const query = `
		INSERT INTO voice_activity (
			tenant_id, participant_id, display_name, event,
			from_room_id, to_room_id, action, action_room_id, suppressed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, occurred_at`

	err := s.db.QueryRow(ctx, query,
		e.TenantID, e.ParticipantID, e.DisplayName, e.Event,
		e.FromRoomID, e.ToRoomID, e.Action, e.ActionRoomID, e.Suppressed,
	).Scan(&e.ID, &e.OccurredAt)
	if err != nil {
		return fmt.Errorf("activitylog: record: %w", err)
	}
	return nil
}

// RecentByTenant implements [Store.RecentByTenant].
func (s *PostgresStore) RecentByTenant(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	const query = `
		SELECT id, tenant_id, participant_id, display_name, event,
		       from_room_id, to_room_id, action, action_room_id, suppressed,
		       occurred_at
		FROM voice_activity
		WHERE tenant_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("activitylog: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.ParticipantID, &e.DisplayName, &e.Event,
			&e.FromRoomID, &e.ToRoomID, &e.Action, &e.ActionRoomID, &e.Suppressed,
			&e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("activitylog: recent scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activitylog: recent: %w", err)
	}
	return entries, nil
}
