// Package history provides a SQLite-backed journal of sync outcomes.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	path        TEXT NOT NULL,
	action      TEXT NOT NULL,
	remote_id   TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	retries     INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_path ON sync_history(path);
CREATE INDEX IF NOT EXISTS idx_history_at ON sync_history(at);
`

// Entry is one journaled sync outcome.
type Entry struct {
	ID       int64         `json:"id"`
	Path     string        `json:"path"`
	Action   string        `json:"action"`
	RemoteID string        `json:"remote_id,omitempty"`
	Error    string        `json:"error,omitempty"`
	Retries  int           `json:"retries"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Journal defines the interface for sync history operations. Consumers
// should depend on this interface rather than the concrete *DB type to
// facilitate testing with mocks.
type Journal interface {
	Record(e Entry) error
	Recent(limit int) ([]Entry, error)
	ForPath(path string, limit int) ([]Entry, error)
	Prune(keep int) error
	Close() error
}

// Verify *DB satisfies Journal at compile time.
var _ Journal = (*DB)(nil)

// DB wraps a sql.DB with journal-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Record appends one outcome to the journal.
func (db *DB) Record(e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO sync_history (path, action, remote_id, error, retries, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Path, e.Action, e.RemoteID, e.Error, e.Retries, e.Duration.Milliseconds(), at)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (db *DB) Recent(limit int) ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT id, path, action, remote_id, error, retries, duration_ms, at
		FROM sync_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return scanEntries(rows)
}

// ForPath returns the most recent entries for one document, newest first.
func (db *DB) ForPath(path string, limit int) ([]Entry, error) {
	rows, err := db.conn.Query(`
		SELECT id, path, action, remote_id, error, retries, duration_ms, at
		FROM sync_history WHERE path = ? ORDER BY id DESC LIMIT ?
	`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("history: for path: %w", err)
	}
	return scanEntries(rows)
}

// Prune trims the journal down to the newest keep entries.
func (db *DB) Prune(keep int) error {
	_, err := db.conn.Exec(`
		DELETE FROM sync_history
		WHERE id NOT IN (SELECT id FROM sync_history ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.Path, &e.Action, &e.RemoteID, &e.Error, &e.Retries, &ms, &e.At); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
