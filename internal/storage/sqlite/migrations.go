package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order on startup. They are forward only and every
// statement is idempotent, so re-running against an existing database is safe.
// Append new entries; never edit an applied one.
var migrations = []migration{
	{
		version: 1,
		name:    "create_sessions",
		sql: `
CREATE TABLE IF NOT EXISTS sessions (
    group_id TEXT PRIMARY KEY,
    status TEXT NOT NULL CHECK (status IN ('active', 'settled', 'completed')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status_updated_at ON sessions(status, updated_at);
`,
	},
	{
		version: 2,
		name:    "create_analytics_events",
		sql: `
CREATE TABLE IF NOT EXISTS analytics_events (
    id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    group_id TEXT,
    user_id TEXT,
    amount INTEGER,
    label TEXT,
    created_at TEXT NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_analytics_events_type_created_at ON analytics_events(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_analytics_events_group_id ON analytics_events(group_id);
`,
	},
	{
		version: 3,
		name:    "index_sessions_created_at",
		sql:     `CREATE INDEX IF NOT EXISTS idx_sessions_status_created_at ON sessions(status, created_at);`,
	},
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL
);`

const recordMigration = `INSERT OR IGNORE INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`

// runMigrations executes the schema setup, one transaction per migration.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, recordMigration, m.version, m.name, formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
