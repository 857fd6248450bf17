// Package store is the persistence layer: an embedded SQLite database
// providing the atomic upsert and multi-write transaction semantics the
// correlation engine depends on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

// Store wraps the database handle. All exported methods are safe for
// concurrent use; SQLite serialises writers, which is what gives incident
// commands their per-incident ordering guarantee.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string, busyTimeout time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		url.PathEscape(path), busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between pooled writers and
	// keeps in-memory databases on one schema.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incident_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload JSON NOT NULL,
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incident_events_incident ON incident_events(incident_id, seq);

	CREATE TABLE IF NOT EXISTS incident_snapshots (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		service_name TEXT NOT NULL,
		status TEXT NOT NULL,
		severity TEXT NOT NULL,
		environment TEXT NOT NULL,
		detected_by TEXT NOT NULL,
		runbook_path TEXT NOT NULL DEFAULT '',
		correlation_keys JSON NOT NULL DEFAULT '[]',
		data_path_keys JSON NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incident_snapshots_org ON incident_snapshots(org_id, created_at);

	CREATE TABLE IF NOT EXISTS incident_signals (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		service_name TEXT NOT NULL,
		environment TEXT NOT NULL,
		correlation_key TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		summary TEXT NOT NULL,
		data JSON NOT NULL DEFAULT '{}',
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incident_signals_incident ON incident_signals(incident_id, ts);

	CREATE TABLE IF NOT EXISTS incident_actions (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		actor_ref TEXT NOT NULL,
		action_kind TEXT NOT NULL,
		label TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incident_actions_incident ON incident_actions(incident_id, ts);

	CREATE TABLE IF NOT EXISTS data_path_flows (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		data_path_key TEXT NOT NULL,
		service_name TEXT NOT NULL,
		environment TEXT NOT NULL,
		route TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 1,
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		UNIQUE(org_id, project_id, data_path_key)
	);
	CREATE INDEX IF NOT EXISTS idx_data_path_flows_seen ON data_path_flows(org_id, last_seen_at);

	CREATE TABLE IF NOT EXISTS sla_watch_entries (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		service_name TEXT NOT NULL,
		environment TEXT NOT NULL,
		correlation_key TEXT NOT NULL DEFAULT '',
		data_path_key TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		risk_score REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		logs_snapshot JSON NOT NULL DEFAULT '[]',
		first_detected_at TEXT NOT NULL,
		last_updated_at TEXT NOT NULL,
		UNIQUE(org_id, project_id, service_name, environment, correlation_key, data_path_key)
	);
	`
	if _, err := s.db.ExecContext(context.Background(), schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, committing on nil error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func marshalStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return []string{}
	}
	return values
}

func unmarshalLogLines(raw string) []models.LogLine {
	if raw == "" {
		return nil
	}
	var lines []models.LogLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil
	}
	return lines
}
