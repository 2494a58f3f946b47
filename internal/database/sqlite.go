package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"qosd-go/internal/models"
)

// SQLite is the single-file event store used on routers and small installs.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS telemetry_events (
	id            TEXT PRIMARY KEY,
	event         TEXT NOT NULL DEFAULT '',
	ts            TEXT NOT NULL DEFAULT '',
	router        TEXT NOT NULL DEFAULT '',
	ip            TEXT NOT NULL DEFAULT '',
	hostname      TEXT NOT NULL DEFAULT '',
	persona       TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	priority      TEXT NOT NULL DEFAULT '',
	policy_action TEXT NOT NULL DEFAULT '',
	dscp          TEXT NOT NULL DEFAULT '',
	confidence    INTEGER NOT NULL DEFAULT 0,
	latency_ms    REAL NOT NULL DEFAULT 0,
	rx_bps        INTEGER NOT NULL DEFAULT 0,
	tx_bps        INTEGER NOT NULL DEFAULT 0,
	received_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_ip ON telemetry_events(ip);
`

const (
	sqliteInsertEvent = `INSERT OR IGNORE INTO telemetry_events (` + eventColumns + `, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqliteRecentEvents = `SELECT ` + eventColumns + `
		FROM telemetry_events
		ORDER BY rowid DESC
		LIMIT ?`
)

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "./qosd-telemetry.sqlite"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logrus.Infof("Opened SQLite event store at %s", path)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) InsertEvents(ctx context.Context, events []models.TelemetryEvent) error {
	return insertEvents(ctx, s.db, sqliteInsertEvent, events)
}

// RecentEvents returns up to limit events, newest first. A non-positive
// limit means 200.
func (s *SQLite) RecentEvents(ctx context.Context, limit int) ([]models.TelemetryEvent, error) {
	return queryEvents(ctx, s.db, sqliteRecentEvents, limit)
}

// Validate checks the telemetry_events schema.
func (s *SQLite) Validate(ctx context.Context) error {
	return validateSchema(ctx, s.db)
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	return eventStats(ctx, s.db)
}

var _ EventStore = (*SQLite)(nil)
