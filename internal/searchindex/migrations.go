package searchindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the index schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents an index schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all index migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- One row per indexed message; rows are append-only
CREATE TABLE IF NOT EXISTS indexed_messages (
    message_id INTEGER PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    date INTEGER NOT NULL,
    is_from_me INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL,
    fts_rowid INTEGER,
    fts_stemmed_rowid INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_indexed_messages_chat ON indexed_messages(chat_id);
CREATE INDEX IF NOT EXISTS idx_indexed_messages_date ON indexed_messages(date);

-- Raw text full-text index
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    text,
    tokenize='unicode61 remove_diacritics 2'
);

-- Stemmed text full-text index; same shape, normalized content
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts_stemmed USING fts5(
    text,
    tokenize='unicode61 remove_diacritics 2'
);

-- Key/value metadata (build timestamps, source path)
CREATE TABLE IF NOT EXISTS index_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS index_metadata;
DROP TABLE IF EXISTS messages_fts_stemmed;
DROP TABLE IF EXISTS messages_fts;
DROP TABLE IF EXISTS indexed_messages;
DROP TABLE IF EXISTS schema_version;
`

// resetSQL clears all indexed content while keeping schema versioning
// intact, for full rebuilds.
const resetSQL = `
DELETE FROM indexed_messages;
DROP TABLE IF EXISTS messages_fts;
DROP TABLE IF EXISTS messages_fts_stemmed;
CREATE VIRTUAL TABLE messages_fts USING fts5(
    text,
    tokenize='unicode61 remove_diacritics 2'
);
CREATE VIRTUAL TABLE messages_fts_stemmed USING fts5(
    text,
    tokenize='unicode61 remove_diacritics 2'
);
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	var currentVersion *semver.Version
	if err == sql.ErrNoRows {
		currentVersion = semver.MustParse("0.0.0")
	} else if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	} else {
		var currentVersionStr string
		err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersionStr)
		if err == sql.ErrNoRows || currentVersionStr == "" {
			currentVersion = semver.MustParse("0.0.0")
		} else if err != nil {
			return fmt.Errorf("failed to read schema_version: %w", err)
		} else {
			currentVersion, err = semver.NewVersion(currentVersionStr)
			if err != nil {
				return fmt.Errorf("invalid current schema version %s: %w", currentVersionStr, err)
			}
		}
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		_, err = db.ExecContext(ctx, migration.Up)
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}
