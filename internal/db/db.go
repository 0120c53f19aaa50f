package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite event journal and provides logging methods
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		// Checkpoint the WAL to ensure all data is written to the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main database file
func (db *DB) Flush() error {
	if db.conn != nil {
		_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	-- Supervisor, watcher and server lifecycle events
	CREATE TABLE IF NOT EXISTS watch_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_watch_events_timestamp ON watch_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_watch_events_source ON watch_events(source);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Event represents a single journal row. Source is "watch" for the supervisor
// itself, "server" for the application server, or a watcher name.
type Event struct {
	ID        int64
	Source    string
	EventType string
	Details   string
	Timestamp time.Time
}

// LogEvent appends a lifecycle event to the journal
func (db *DB) LogEvent(source, eventType, details string) error {
	// Retry briefly if database is locked (3 attempts, 5ms between).
	// Best-effort - we never want to block supervisor teardown.
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO watch_events (source, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			source, eventType, details, time.Now(),
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
	return fmt.Errorf("failed to log event after %d retries: database locked", maxRetries)
}

// RecentEvents retrieves the most recent events, newest first
func (db *DB) RecentEvents(limit int) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, source, event_type, details, timestamp
		 FROM watch_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Source, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneEvents deletes all but the newest keep rows
func (db *DB) PruneEvents(keep int) error {
	_, err := db.conn.Exec(
		`DELETE FROM watch_events
		 WHERE id NOT IN (SELECT id FROM watch_events ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	return err
}
