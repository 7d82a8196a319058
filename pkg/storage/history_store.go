package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rigd-project/rigd/pkg/logging"
	"github.com/rigd-project/rigd/pkg/radio"
)

// HistoryStore persists connection events and meter telemetry so the
// operator can review what the link did overnight.
type HistoryStore struct {
	db           *sql.DB
	dbPath       string
	maxEvents    int
	retainMeters time.Duration
}

// EventRecord is one row of connection history.
type EventRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail"`
}

// MeterRecord is one telemetry sample; absent readings stay NULL.
type MeterRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SWR       *float64  `json:"swr,omitempty"`
	ALC       *float64  `json:"alc,omitempty"`
	Level     *int      `json:"level,omitempty"`
	Power     *float64  `json:"power,omitempty"`
}

// NewHistoryStore creates a history store with SQLite backend
func NewHistoryStore(dbPath string, maxEvents int, retainMeters time.Duration) (*HistoryStore, error) {
	store := &HistoryStore{
		dbPath:       dbPath,
		maxEvents:    maxEvents,
		retainMeters: retainMeters,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (hs *HistoryStore) initialize() error {
	if hs.dbPath == "" {
		hs.dbPath = "./rigd.db"
	}

	if err := os.MkdirAll(filepath.Dir(hs.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := hs.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	hs.db = db

	if err := hs.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Infof("storage", "history store initialized: %s (max %d events)", hs.dbPath, hs.maxEvents)
	return nil
}

// createTables creates the database schema
func (hs *HistoryStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		event_type TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meter_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		swr REAL,
		alc REAL,
		level INTEGER,
		power REAL
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON connection_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_events_type ON connection_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_meters_timestamp ON meter_samples(timestamp DESC);
	`

	_, err := hs.db.Exec(schema)
	return err
}

// RecordEvent appends a connection event and trims the table to the
// configured limit.
func (hs *HistoryStore) RecordEvent(eventType, detail string) error {
	tx, err := hs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO connection_events (event_type, detail) VALUES (?, ?)",
		eventType, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := hs.cleanupOldEvents(tx); err != nil {
		logging.Warnf("storage", "failed to cleanup old events: %v", err)
	}

	return tx.Commit()
}

// RecordMeters appends a telemetry sample and trims samples older than
// the retention window. The UDP backend produces roughly one sample per
// second, so trimming rides on the insert the same way events do.
func (hs *HistoryStore) RecordMeters(md radio.MeterData) error {
	tx, err := hs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO meter_samples (timestamp, swr, alc, level, power) VALUES (?, ?, ?, ?, ?)",
		md.Timestamp, md.SWR, md.ALC, md.Level, md.Power,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter sample: %w", err)
	}

	if err := hs.cleanupOldMeters(tx); err != nil {
		logging.Warnf("storage", "failed to cleanup old meter samples: %v", err)
	}

	return tx.Commit()
}

// RecentEvents returns the newest events, most recent first.
func (hs *HistoryStore) RecentEvents(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := hs.db.Query(`
		SELECT id, timestamp, event_type, detail
		FROM connection_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MeterHistory returns telemetry samples newer than since, oldest first.
func (hs *HistoryStore) MeterHistory(since time.Time) ([]MeterRecord, error) {
	rows, err := hs.db.Query(`
		SELECT timestamp, swr, alc, level, power
		FROM meter_samples
		WHERE timestamp > ?
		ORDER BY timestamp ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query meter samples: %w", err)
	}
	defer rows.Close()

	var samples []MeterRecord
	for rows.Next() {
		var mr MeterRecord
		if err := rows.Scan(&mr.Timestamp, &mr.SWR, &mr.ALC, &mr.Level, &mr.Power); err != nil {
			return nil, fmt.Errorf("failed to scan meter sample: %w", err)
		}
		samples = append(samples, mr)
	}
	return samples, rows.Err()
}

// Cleanup trims both tables to their retention limits (exported for
// manual cleanup)
func (hs *HistoryStore) Cleanup() error {
	tx, err := hs.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := hs.cleanupOldEvents(tx); err != nil {
		return err
	}
	if err := hs.cleanupOldMeters(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// cleanupOldEvents removes events beyond the maximum limit
func (hs *HistoryStore) cleanupOldEvents(tx *sql.Tx) error {
	if hs.maxEvents <= 0 {
		return nil // No limit
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM connection_events").Scan(&count); err != nil {
		return err
	}
	if count <= hs.maxEvents {
		return nil // Within limit
	}

	deleteCount := count - hs.maxEvents
	_, err := tx.Exec(`
		DELETE FROM connection_events
		WHERE id IN (
			SELECT id FROM connection_events
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)
	`, deleteCount)
	return err
}

// cleanupOldMeters removes telemetry older than the retention window
func (hs *HistoryStore) cleanupOldMeters(tx *sql.Tx) error {
	if hs.retainMeters <= 0 {
		return nil // No limit
	}

	cutoff := time.Now().Add(-hs.retainMeters)
	_, err := tx.Exec("DELETE FROM meter_samples WHERE timestamp < ?", cutoff)
	return err
}

// Close closes the database connection
func (hs *HistoryStore) Close() error {
	if hs.db != nil {
		return hs.db.Close()
	}
	return nil
}
