package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is the session store DDL, valid for both SQLite and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		passcode      TEXT PRIMARY KEY,
		owner_account TEXT NOT NULL,
		document      TEXT NOT NULL,
		is_playing    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_owner_account ON sessions (owner_account)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_is_playing ON sessions (is_playing)`,
}

// Migrate applies the session store schema. Idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
