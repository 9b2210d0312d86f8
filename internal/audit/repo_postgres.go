package audit

import (
	"context"
	"database/sql"

	"vidcall-platform/pkg/utils"
)

var Migrations = []utils.Migration{
	{
		Version: "20250101000101",
		Name:    "create_audit_events",
		Up: `
CREATE TABLE IF NOT EXISTS audit_events (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    account_id      TEXT NOT NULL,
    counterparty_id TEXT NOT NULL DEFAULT '',
    room_id         TEXT NOT NULL DEFAULT '',
    message         TEXT NOT NULL DEFAULT '',
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_type_created ON audit_events (type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_room ON audit_events (room_id) WHERE room_id <> '';
`,
	},
}

// PostgresRepo appends audit events; it has no update or delete path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, account_id, counterparty_id, room_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.AccountID,
		e.CounterpartyID,
		e.RoomID,
		e.Message,
		metadata,
		e.CreatedAt,
	)
	return err
}
