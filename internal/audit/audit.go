// Package audit persists a record of admission and teardown events for
// every connection the Acceptor sees, grounded on this codebase's own
// SQLite-backed event log pattern. It plays no role in the admission
// decision itself — it is strictly an observability sink for
// `rembash status` and post-hoc troubleshooting.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection backing the audit log.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the audit database at path, creating its
// directory and schema as needed.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS connection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_addr TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		details     TEXT,
		timestamp   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_connection_events_timestamp ON connection_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_connection_events_type ON connection_events(event_type);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the underlying connection, checkpointing the WAL first.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// Event types recorded by the Acceptor, Handshake engine, and teardown.
const (
	EventAccepted       = "accepted"
	EventAdmitted       = "admitted"
	EventRejectedSecret = "rejected_secret"
	EventTimedOut       = "timed_out"
	EventTerminated     = "terminated"
)

// Log records a connection lifecycle event, retrying briefly on
// SQLITE_BUSY the way this codebase's event logging already does —
// audit logging is best-effort and must never block connection handling.
func (db *DB) Log(remoteAddr, eventType, details string) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO connection_events (remote_addr, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			remoteAddr, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("log connection event after %d retries: database locked", maxRetries)
}

// ConnectionEvent is a single recorded row.
type ConnectionEvent struct {
	ID         int64
	RemoteAddr string
	EventType  string
	Details    string
	Timestamp  time.Time
}

// Recent returns the most recent events, newest first.
func (db *DB) Recent(limit int) ([]ConnectionEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, remote_addr, event_type, details, timestamp
		 FROM connection_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.ID, &e.RemoteAddr, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByType returns the number of recorded events of the given type.
func (db *DB) CountByType(eventType string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM connection_events WHERE event_type = ?`, eventType,
	).Scan(&count)
	return count, err
}
