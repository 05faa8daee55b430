package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY,
	session_id TEXT UNIQUE NOT NULL,
	url TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	local_path TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	bytes_total INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_status_finished ON sessions (status, finished_at);`

// InitDB opens the SQLite database at path and creates the sessions table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; the manager is the only one anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
