// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package store

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the current schema version. Opening an older database
// applies every migration after its recorded version, in order.
const schemaVersion = 2

// migrations[i] upgrades from version i+1 to i+2. Index 0 is the base
// schema applied to empty databases.
var migrations = []string{
	// v1: base schema
	`CREATE TABLE IF NOT EXISTS team_executions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		team_name    TEXT NOT NULL,
		task         TEXT NOT NULL,
		status       TEXT NOT NULL,
		agent_count  INTEGER NOT NULL DEFAULT 0,
		error        TEXT,
		started_at   INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS agent_results (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id  INTEGER NOT NULL REFERENCES team_executions(id) ON DELETE CASCADE,
		agent_name    TEXT NOT NULL,
		status        TEXT NOT NULL,
		findings_json TEXT,
		messages_blob BLOB,
		duration_ms   INTEGER,
		error         TEXT,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS merge_snapshots (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id INTEGER NOT NULL REFERENCES team_executions(id) ON DELETE CASCADE,
		phase        TEXT NOT NULL,
		input_data   BLOB,
		output_data  BLOB,
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_executions_session
		ON team_executions(session_id, team_name, started_at);
	CREATE INDEX IF NOT EXISTS idx_agent_results_execution
		ON agent_results(execution_id);
	CREATE INDEX IF NOT EXISTS idx_merge_snapshots_execution
		ON merge_snapshots(execution_id);`,

	// v2: per-agent token usage
	`ALTER TABLE agent_results ADD COLUMN usage_json TEXT;`,
}

// migrate brings the schema up to schemaVersion inside one transaction per
// migration step.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	row := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	switch err := row.Scan(&current); err {
	case nil:
	case sql.ErrNoRows:
		// Fresh database.
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		current = 0
	default:
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, schemaVersion)
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, v+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration to v%d: %w", v+1, err)
		}
	}
	return nil
}
