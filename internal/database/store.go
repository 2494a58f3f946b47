package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"qosd-go/internal/models"
)

// EventStore persists telemetry events received by the collector.
type EventStore interface {
	InsertEvents(ctx context.Context, events []models.TelemetryEvent) error
	RecentEvents(ctx context.Context, limit int) ([]models.TelemetryEvent, error)
	Close() error
}

const defaultQueryLimit = 200

const eventColumns = `id, event, ts, router, ip, hostname, persona, category, priority,
	policy_action, dscp, confidence, latency_ms, rx_bps, tx_bps`

// insertEvents writes events in one transaction using the driver-specific
// insert statement.
func insertEvents(ctx context.Context, db *sql.DB, query string, events []models.TelemetryEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	receivedAt := time.Now().UTC()
	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.ID, ev.Event, ev.Timestamp, ev.Router, ev.IP, ev.Hostname,
			ev.Persona, ev.Category, ev.Priority, ev.Policy, ev.DSCP,
			ev.Confidence, ev.LatencyMS, int64(ev.RxBps), int64(ev.TxBps),
			receivedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func queryEvents(ctx context.Context, db *sql.DB, query string, limit int) ([]models.TelemetryEvent, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.TelemetryEvent, 0, limit)
	for rows.Next() {
		var (
			ev           models.TelemetryEvent
			rxBps, txBps int64
		)
		if err := rows.Scan(
			&ev.ID, &ev.Event, &ev.Timestamp, &ev.Router, &ev.IP, &ev.Hostname,
			&ev.Persona, &ev.Category, &ev.Priority, &ev.Policy, &ev.DSCP,
			&ev.Confidence, &ev.LatencyMS, &rxBps, &txBps,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.RxBps, ev.TxBps = uint64(rxBps), uint64(txBps)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stats summarizes what an event store holds.
type Stats struct {
	Events   int64
	Routers  int64
	Personas map[string]int64
}

// validateSchema checks that every column the collector reads and writes
// is present.
func validateSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+`, received_at FROM telemetry_events LIMIT 0`)
	if err != nil {
		return fmt.Errorf("telemetry_events is missing or incomplete: %w", err)
	}
	return rows.Close()
}

func eventStats(ctx context.Context, db *sql.DB) (Stats, error) {
	stats := Stats{Personas: make(map[string]int64)}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT router) FROM telemetry_events`).Scan(&stats.Events, &stats.Routers)
	if err != nil {
		return stats, fmt.Errorf("failed to count events: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT persona, COUNT(*) FROM telemetry_events GROUP BY persona`)
	if err != nil {
		return stats, fmt.Errorf("failed to count personas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			persona string
			count   int64
		)
		if err := rows.Scan(&persona, &count); err != nil {
			return stats, fmt.Errorf("failed to scan persona count: %w", err)
		}
		stats.Personas[persona] = count
	}
	return stats, rows.Err()
}
