// Package sqlite is the coordinator's persistence layer: jobs, chunks,
// nodes, and permissions on top of modernc.org/sqlite, following this
// corpus's migrations-as-string-slice convention.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the coordinator's SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) coordinator.db inside dataDir and
// applies every migration.
func Open(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, "coordinator.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; a single open connection avoids
	// SQLITE_BUSY from concurrent writers inside one process.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// Migrations returns the coordinator schema migration statements.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			spec                 TEXT NOT NULL,
			iterations           INTEGER NOT NULL,
			completed_iterations INTEGER NOT NULL DEFAULT 0,
			access_type          TEXT NOT NULL DEFAULT '',
			discord_guild_id     TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL DEFAULT 'pending',
			mean_dps             REAL,
			min_dps              REAL,
			max_dps              REAL,
			failure_reason       TEXT NOT NULL DEFAULT '',
			created_at           TEXT NOT NULL DEFAULT (datetime('now')),
			completed_at         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id           TEXT PRIMARY KEY,
			job_id       TEXT NOT NULL REFERENCES jobs(id),
			seed         INTEGER NOT NULL,
			iterations   INTEGER NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			node_id      TEXT NOT NULL DEFAULT '',
			mean_dps     REAL,
			std_dps      REAL,
			min_dps      REAL,
			max_dps      REAL,
			result_iterations INTEGER,
			claimed_at   TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_job ON chunks(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_node ON chunks(node_id, status)`,

		`CREATE TABLE IF NOT EXISTS nodes (
			id           TEXT PRIMARY KEY,
			public_key   BLOB NOT NULL UNIQUE,
			name         TEXT NOT NULL DEFAULT '',
			user_id      TEXT NOT NULL DEFAULT '',
			discord_id   TEXT NOT NULL DEFAULT '',
			total_cores  INTEGER NOT NULL DEFAULT 0,
			max_parallel INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'offline',
			last_seen    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status)`,

		`CREATE TABLE IF NOT EXISTS node_permissions (
			node_id     TEXT NOT NULL,
			access_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			PRIMARY KEY (node_id, access_type, target_id)
		)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
