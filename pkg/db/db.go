// Package db pkg/db/db.go provides the SQLite-backed audit store for the
// BFD monitor. The store is an append-only event log with bounded retention:
// rows are only ever removed in bulk from the oldest end by Prune.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// maxFetchLimit bounds a single FetchRecent response.
	maxFetchLimit = 1000

	createTablesSQL = `
	-- Audit event log
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		device TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_device_time
		ON events(device, ts);
	`
)

// DB represents the audit store backed by SQLite.
type DB struct {
	conn *sql.DB

	// sqlite serializes writers itself, but the mutex keeps the
	// insert-then-notify sequence atomic with respect to listeners.
	mu       sync.Mutex
	listener func(Event)
}

// New creates a new audit store at dbPath and initializes the schema.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	if _, err := conn.Exec(createTablesSQL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return &DB{conn: conn}, nil
}

// SetListener registers a callback invoked after every successful insert.
// Wired once at startup, before any writer runs.
func (db *DB) SetListener(fn func(Event)) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.listener = fn
}

// Insert implements Service. The timestamp is assigned here, in UTC, and the
// returned id is the strictly increasing sqlite rowid.
func (db *DB) Insert(device, eventType string, details map[string]interface{}) (int64, error) {
	if details == nil {
		details = map[string]interface{}{}
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return 0, fmt.Errorf("%w event details: %w", ErrFailedToInsert, err)
	}

	ts := time.Now().UTC()

	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.Exec(
		"INSERT INTO events (ts, device, event_type, details) VALUES (?, ?, ?, ?)",
		ts.Format(time.RFC3339Nano), device, eventType, string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("%w event: %w", ErrFailedToInsert, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w event id: %w", ErrFailedToInsert, err)
	}

	if db.listener != nil {
		db.listener(Event{
			ID:        id,
			Timestamp: ts,
			Device:    device,
			EventType: eventType,
			Details:   payload,
		})
	}

	return id, nil
}

// FetchRecent implements Service. The limit is clamped to maxFetchLimit;
// limit <= 0 returns an empty slice.
func (db *DB) FetchRecent(limit int) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}

	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	rows, err := db.conn.Query(
		"SELECT id, ts, device, event_type, details FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w recent events: %w", ErrFailedToQuery, err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	events := []Event{}

	for rows.Next() {
		var (
			e       Event
			ts      string
			details string
		)

		if err := rows.Scan(&e.ID, &ts, &e.Device, &e.EventType, &details); err != nil {
			return nil, fmt.Errorf("%w event row: %w", ErrFailedToScan, err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w event timestamp: %w", ErrFailedToScan, err)
		}

		e.Timestamp = parsed
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w recent events: %w", ErrFailedToQuery, err)
	}

	return events, nil
}

// Prune implements Service. The delete runs in a single transaction so
// concurrent readers never observe a half-pruned generation.
func (db *DB) Prune(maxRows int) error {
	if maxRows < 0 {
		maxRows = 0
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("failed to rollback prune: %v", rbErr)
			}
		}
	}()

	var count int
	if err = tx.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return fmt.Errorf("%w event count: %w", ErrFailedToPrune, err)
	}

	if count <= maxRows {
		return tx.Commit()
	}

	toDelete := count - maxRows

	if _, err = tx.Exec(
		"DELETE FROM events WHERE id IN (SELECT id FROM events ORDER BY id ASC LIMIT ?)",
		toDelete,
	); err != nil {
		return fmt.Errorf("%w oldest %d events: %w", ErrFailedToPrune, toDelete, err)
	}

	return tx.Commit()
}

// Count implements Service.
func (db *DB) Count() (int, error) {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w event count: %w", ErrFailedToQuery, err)
	}

	return count, nil
}

// Close implements Service.
func (db *DB) Close() error {
	return db.conn.Close()
}
