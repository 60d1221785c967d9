package persistence

import (
	"database/sql"
	"fmt"
)

// createSchema creates all required tables and indices.
func createSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS stories (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			narrative TEXT NOT NULL,
			acceptance_criteria TEXT NOT NULL,
			quality_requirements TEXT NOT NULL,
			priority TEXT NOT NULL,
			story_points INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			story_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			status TEXT NOT NULL,
			agent_role TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL,
			depends_on TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			assigned_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS agent_status (
			role TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			current_task_id TEXT NOT NULL DEFAULT '',
			processed INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			story_id TEXT NOT NULL,
			type TEXT NOT NULL,
			question TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			recommendation TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			resolved_at DATETIME,
			resolution_notes TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS deliverables (
			task_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			story_id TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			payload TEXT NOT NULL,
			submitted_at DATETIME NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_tasks_story ON tasks(story_id)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)",
		"CREATE INDEX IF NOT EXISTS idx_escalations_resolved ON escalations(resolved)",
	}
	for _, index := range indices {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}
