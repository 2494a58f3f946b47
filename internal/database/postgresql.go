package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"qosd-go/internal/models"
)

type PostgreSQL struct {
	db *sql.DB
}

type Config struct {
	Host               string `yaml:"host" env:"QOSD_DB_HOST"`
	Port               int    `yaml:"port" env:"QOSD_DB_PORT"`
	Name               string `yaml:"name" env:"QOSD_DB_NAME"`
	User               string `yaml:"user" env:"QOSD_DB_USER"`
	Password           string `yaml:"password" env:"QOSD_DB_PASSWORD"`
	SSLMode            string `yaml:"sslmode" env:"QOSD_DB_SSLMODE"`
	MaxConnections     int    `yaml:"max_connections" env:"QOSD_DB_MAX_CONNECTIONS"`
	MaxIdleConnections int    `yaml:"max_idle_connections" env:"QOSD_DB_MAX_IDLE_CONNECTIONS"`
}

const postgresSchema = `
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
	latency_ms    DOUBLE PRECISION NOT NULL DEFAULT 0,
	rx_bps        BIGINT NOT NULL DEFAULT 0,
	tx_bps        BIGINT NOT NULL DEFAULT 0,
	received_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_received ON telemetry_events(received_at DESC);
CREATE INDEX IF NOT EXISTS idx_telemetry_events_ip ON telemetry_events(ip);`

const (
	postgresInsertEvent = `INSERT INTO telemetry_events (` + eventColumns + `, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`

	postgresRecentEvents = `SELECT ` + eventColumns + `
		FROM telemetry_events
		ORDER BY received_at DESC
		LIMIT $1`
)

func NewPostgreSQL(cfg Config) (*PostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logrus.Infof("Connected to PostgreSQL %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
	return &PostgreSQL{db: db}, nil
}

func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

// GetDB returns the underlying database connection
func (p *PostgreSQL) GetDB() *sql.DB {
	return p.db
}

// InsertEvents stores a batch of events. Events already stored under the
// same id are skipped.
func (p *PostgreSQL) InsertEvents(ctx context.Context, events []models.TelemetryEvent) error {
	return insertEvents(ctx, p.db, postgresInsertEvent, events)
}

// RecentEvents returns the newest stored events first.
func (p *PostgreSQL) RecentEvents(ctx context.Context, limit int) ([]models.TelemetryEvent, error) {
	return queryEvents(ctx, p.db, postgresRecentEvents, limit)
}

// Validate checks the telemetry_events schema.
func (p *PostgreSQL) Validate(ctx context.Context) error {
	return validateSchema(ctx, p.db)
}

func (p *PostgreSQL) Stats(ctx context.Context) (Stats, error) {
	return eventStats(ctx, p.db)
}

var _ EventStore = (*PostgreSQL)(nil)
