package client

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; index+1 is the schema version
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS Config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS Storage (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		revision   INTEGER NOT NULL DEFAULT 0,
		writer     TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`,
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS SchemaVersion (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema version table: %w", err)
	}

	var current int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM SchemaVersion").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO SchemaVersion (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
