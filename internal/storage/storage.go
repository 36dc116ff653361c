// Package storage owns nanobot's single SQLite database (chat.db) and its
// idempotent schema migrations, shared by the sessions, memory and cron
// packages (spec §6 "Persisted state layout").
package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) the SQLite database at path and applies
// all idempotent migrations. If the existing file cannot be read as a
// SQLite database, it is renamed to "<name>.bak" and the schema is
// recreated fresh (spec §6, §7 "session_corrupt"/"db_corrupt").
func Open(path string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers per spec §5.

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logger.Warn("database unreadable, recreating", "path", path, "error", err)
		if renameErr := quarantine(path); renameErr != nil {
			return nil, fmt.Errorf("quarantine corrupt db %s: %w", path, renameErr)
		}
		db, err = sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
		if err != nil {
			return nil, fmt.Errorf("reopen sqlite %s: %w", path, err)
		}
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

func quarantine(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	backup := path + ".bak"
	return os.Rename(path, backup)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		key TEXT PRIMARY KEY,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		session_key TEXT NOT NULL REFERENCES chat_sessions(key) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_call_id TEXT,
		extras TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_key, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS memory_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		content TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		source_type TEXT,
		source_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_entries_scope ON memory_entries(agent_id, scope, id)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS memory_entries_fts USING fts5(
		content, content='memory_entries', content_rowid='id'
	)`,
	`CREATE TRIGGER IF NOT EXISTS memory_entries_ai AFTER INSERT ON memory_entries BEGIN
		INSERT INTO memory_entries_fts(rowid, content) VALUES (new.id, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memory_entries_ad AFTER DELETE ON memory_entries BEGIN
		INSERT INTO memory_entries_fts(memory_entries_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END`,
	`CREATE TABLE IF NOT EXISTS daily_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		date TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		processed_at TIMESTAMP,
		UNIQUE(agent_id, scope, date)
	)`,
	`CREATE TABLE IF NOT EXISTS cron_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		is_system INTEGER NOT NULL DEFAULT 0,
		trigger TEXT NOT NULL,
		trigger_params TEXT NOT NULL DEFAULT '{}',
		payload TEXT NOT NULL DEFAULT '{}',
		next_run_at_ms INTEGER,
		last_run_at_ms INTEGER,
		last_status TEXT,
		last_error TEXT,
		delete_after_run INTEGER NOT NULL DEFAULT 0,
		source TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS config_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_templates (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		rules TEXT NOT NULL DEFAULT '',
		system_prompt_template TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS identities (
		workspace TEXT PRIMARY KEY,
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mirror_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(agent_id, scope)
	)`,
	`CREATE TABLE IF NOT EXISTS mirror_shang_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		round INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mirror_profile_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id INTEGER NOT NULL REFERENCES mirror_profiles(id) ON DELETE CASCADE,
		summary TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

// migrate applies schema statements idempotently, then probes additive
// columns via PRAGMA table_info, matching the teacher's migration style.
func migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return addColumnIfMissing(db, "cron_jobs", "last_run_at_ms", "INTEGER")
}

func addColumnIfMissing(db *sql.DB, table, column, sqlType string) error {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, sqlType))
	return err
}

// Now is the storage package's single source of "current time" so callers
// that need wall-clock alongside a *sql.DB don't reach for time.Now directly
// in persistence code paths that tests may want to stub.
var Now = time.Now
