package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

const watchColumns = `id, org_id, project_id, service_name, environment, correlation_key,
	data_path_key, status, risk_score, source, logs_snapshot, first_detected_at, last_updated_at`

// UpsertWatchEntry records an SLA watch update, creating the entry on first
// detection or refreshing status/score/snapshot afterwards. FirstDetectedAt
// is immutable once set.
func (s *Store) UpsertWatchEntry(ctx context.Context, update models.SLAWatchUpdate, now time.Time) (models.SLAWatchEntry, error) {
	logs, err := marshalJSON(update.LogsSnapshot)
	if err != nil {
		return models.SLAWatchEntry{}, err
	}
	ts := formatTS(now)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sla_watch_entries (`+watchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, project_id, service_name, environment, correlation_key, data_path_key) DO UPDATE SET
			status = excluded.status,
			risk_score = excluded.risk_score,
			source = excluded.source,
			logs_snapshot = excluded.logs_snapshot,
			last_updated_at = excluded.last_updated_at
		RETURNING `+watchColumns,
		uuid.NewString(), update.OrgID, update.ProjectID, update.ServiceName, update.Environment,
		update.CorrelationKey, update.DataPathKey, string(update.Status), update.RiskScore,
		update.Source, logs, ts, ts)

	entry, err := scanWatchEntry(row)
	if err != nil {
		return models.SLAWatchEntry{}, fmt.Errorf("upsert watch entry: %w", err)
	}
	return entry, nil
}

// WatchFilters narrows watchlist reads.
type WatchFilters struct {
	ProjectID   string
	ServiceName string
	Environment string
	Status      []models.SLAWatchStatus
	Limit       int
}

// ListWatchEntries returns an org's watch entries, riskiest first. Without an
// explicit status filter only active (AT_RISK, BREACHED) entries return.
func (s *Store) ListWatchEntries(ctx context.Context, orgID string, filters WatchFilters) ([]models.SLAWatchEntry, error) {
	statuses := filters.Status
	if len(statuses) == 0 {
		statuses = []models.SLAWatchStatus{models.WatchAtRisk, models.WatchBreached}
	}

	where := []string{"org_id = ?"}
	args := []any{orgID}

	clause, statusArgs := inClause("status", len(statuses))
	where = append(where, clause)
	for i, st := range statuses {
		statusArgs[i] = string(st)
	}
	args = append(args, statusArgs...)

	if filters.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filters.ProjectID)
	}
	if filters.ServiceName != "" {
		where = append(where, "service_name = ?")
		args = append(args, filters.ServiceName)
	}
	if filters.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, filters.Environment)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM sla_watch_entries WHERE `+strings.Join(where, " AND ")+
			` ORDER BY risk_score DESC, last_updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query watch entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.SLAWatchEntry
	for rows.Next() {
		entry, err := scanWatchEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ClearWatchEntry marks an entry CLEARED. Returns utils.ErrNotFound when the
// entry does not exist in the org.
func (s *Store) ClearWatchEntry(ctx context.Context, orgID, entryID string, now time.Time) (models.SLAWatchEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE sla_watch_entries SET status = ?, last_updated_at = ?
		WHERE id = ? AND org_id = ?
		RETURNING `+watchColumns,
		string(models.WatchCleared), formatTS(now), entryID, orgID)

	entry, err := scanWatchEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SLAWatchEntry{}, utils.ErrNotFound
	}
	if err != nil {
		return models.SLAWatchEntry{}, fmt.Errorf("clear watch entry: %w", err)
	}
	return entry, nil
}

// CleanupClearedEntries deletes CLEARED entries not touched since the cutoff
// and returns the number removed.
func (s *Store) CleanupClearedEntries(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sla_watch_entries WHERE org_id = ? AND status = ? AND last_updated_at < ?`,
		orgID, string(models.WatchCleared), formatTS(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup watch entries: %w", err)
	}
	return res.RowsAffected()
}

func scanWatchEntry(row rowScanner) (models.SLAWatchEntry, error) {
	var (
		entry     models.SLAWatchEntry
		status    string
		logs      string
		firstSeen string
		lastSeen  string
	)
	err := row.Scan(&entry.ID, &entry.OrgID, &entry.ProjectID, &entry.ServiceName, &entry.Environment,
		&entry.CorrelationKey, &entry.DataPathKey, &status, &entry.RiskScore, &entry.Source,
		&logs, &firstSeen, &lastSeen)
	if err != nil {
		return models.SLAWatchEntry{}, err
	}

	entry.Status = models.SLAWatchStatus(status)
	entry.LogsSnapshot = unmarshalLogLines(logs)
	if entry.FirstDetectedAt, err = parseTS(firstSeen); err != nil {
		return models.SLAWatchEntry{}, err
	}
	if entry.LastUpdatedAt, err = parseTS(lastSeen); err != nil {
		return models.SLAWatchEntry{}, err
	}
	return entry, nil
}
