package utils

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward-only schema step. Versions must sort in apply order.
type Migration struct {
	Version string
	Name    string
	Up      string
}

// Migrate applies every migration not yet recorded in schema_migrations, each in its own tx.
func Migrate(ctx context.Context, db *sql.DB, migrations ...[]Migration) error {
	const bootstrap = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, bootstrap); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, group := range migrations {
		for _, m := range group {
			err := WithTx(ctx, db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
				var exists bool
				if err := tx.QueryRowContext(ctx,
					`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
				).Scan(&exists); err != nil {
					return err
				}
				if exists {
					return nil
				}
				if _, err := tx.ExecContext(ctx, m.Up); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
				return err
			})
			if err != nil {
				return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
			}
		}
	}
	return nil
}
