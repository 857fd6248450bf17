package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

const snapshotColumns = `id, org_id, project_id, title, service_name, status, severity,
	environment, detected_by, runbook_path, correlation_keys, data_path_keys, created_at, updated_at`

// GetSnapshot loads an incident snapshot scoped to an org. Returns
// utils.ErrNotFound when the incident does not exist in that org.
func (s *Store) GetSnapshot(ctx context.Context, orgID, incidentID string) (models.IncidentSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM incident_snapshots WHERE id = ? AND org_id = ?`,
		incidentID, orgID)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IncidentSnapshot{}, utils.ErrNotFound
	}
	if err != nil {
		return models.IncidentSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// CreateIncident appends the creation event and writes the initial snapshot
// in one transaction.
func (s *Store) CreateIncident(ctx context.Context, event models.IncidentEvent, snap models.IncidentSnapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		return insertSnapshot(ctx, tx, snap)
	})
}

// AppendWithSnapshot commits one incident command: append the event, write
// the projected snapshot, and persist any derived signal/action row. All
// writes land or none do, so the snapshot can never diverge from the log.
func (s *Store) AppendWithSnapshot(ctx context.Context, event models.IncidentEvent, snap models.IncidentSnapshot, signal *models.IncidentSignal, action *models.IncidentAction) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		if err := updateSnapshot(ctx, tx, snap); err != nil {
			return err
		}
		if signal != nil {
			if err := insertSignal(ctx, tx, *signal); err != nil {
				return err
			}
		}
		if action != nil {
			if err := insertAction(ctx, tx, *action); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, event models.IncidentEvent) error {
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO incident_events (incident_id, org_id, type, payload, ts) VALUES (?, ?, ?, ?, ?)`,
		event.IncidentID, event.OrgID, string(event.Type), payload, formatTS(event.TS))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap models.IncidentSnapshot) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO incident_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.OrgID, snap.ProjectID, snap.Title, snap.ServiceName,
		string(snap.Status), string(snap.Severity), snap.Environment, snap.DetectedBy, snap.RunbookPath,
		marshalStrings(snap.CorrelationKeys), marshalStrings(snap.DataPathKeys),
		formatTS(snap.CreatedAt), formatTS(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func updateSnapshot(ctx context.Context, tx *sql.Tx, snap models.IncidentSnapshot) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE incident_snapshots SET title = ?, service_name = ?, status = ?, severity = ?,
			environment = ?, detected_by = ?, runbook_path = ?, correlation_keys = ?,
			data_path_keys = ?, updated_at = ?
		WHERE id = ? AND org_id = ?`,
		snap.Title, snap.ServiceName, string(snap.Status), string(snap.Severity),
		snap.Environment, snap.DetectedBy, snap.RunbookPath,
		marshalStrings(snap.CorrelationKeys), marshalStrings(snap.DataPathKeys),
		formatTS(snap.UpdatedAt), snap.ID, snap.OrgID)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	return nil
}

func insertSignal(ctx context.Context, tx *sql.Tx, signal models.IncidentSignal) error {
	data, err := marshalJSON(signal.Data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO incident_signals (id, incident_id, org_id, project_id, signal_type,
			service_name, environment, correlation_key, trace_id, source, summary, data, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.ID, signal.IncidentID, signal.OrgID, signal.ProjectID, string(signal.SignalType),
		signal.ServiceName, signal.Environment, signal.CorrelationKey, signal.TraceID,
		signal.Source, signal.Summary, data, formatTS(signal.TS))
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func insertAction(ctx context.Context, tx *sql.Tx, action models.IncidentAction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO incident_actions (id, incident_id, org_id, actor_type, actor_ref,
			action_kind, label, details, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.IncidentID, action.OrgID, string(action.ActorType), action.ActorRef,
		string(action.ActionKind), action.Label, action.Details, formatTS(action.TS))
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// UpdateSnapshotKeys persists snapshot changes made outside the event log,
// such as data path key enrichment.
func (s *Store) UpdateSnapshotKeys(ctx context.Context, snap models.IncidentSnapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return updateSnapshot(ctx, tx, snap)
	})
}

// IncidentFilters narrows and orders incident listings.
type IncidentFilters struct {
	ProjectID   string
	Environment string
	Status      []models.IncidentStatus
	Severity    []models.IncidentSeverity
	SearchQuery string
	SortBy      string // createdAt, updatedAt, severity
	Descending  bool
	Limit       int
	Cursor      string // id of the last row from the previous page
}

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"severity":  "severity",
}

// ListIncidents returns a filtered, sorted page of snapshots plus the cursor
// for the next page ("" when exhausted).
func (s *Store) ListIncidents(ctx context.Context, orgID string, filters IncidentFilters) ([]models.IncidentSnapshot, string, error) {
	where := []string{"org_id = ?"}
	args := []any{orgID}

	if filters.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filters.ProjectID)
	}
	if filters.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, filters.Environment)
	}
	if len(filters.Status) > 0 {
		clause, statusArgs := inClause("status", len(filters.Status))
		where = append(where, clause)
		for i, st := range filters.Status {
			statusArgs[i] = string(st)
		}
		args = append(args, statusArgs...)
	}
	if len(filters.Severity) > 0 {
		clause, sevArgs := inClause("severity", len(filters.Severity))
		where = append(where, clause)
		for i, sev := range filters.Severity {
			sevArgs[i] = string(sev)
		}
		args = append(args, sevArgs...)
	}
	if filters.SearchQuery != "" {
		where = append(where, "(title LIKE ? COLLATE NOCASE OR service_name LIKE ? COLLATE NOCASE)")
		pattern := "%" + filters.SearchQuery + "%"
		args = append(args, pattern, pattern)
	}

	column, ok := sortColumns[filters.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if filters.Descending {
		direction = "DESC"
	}

	if filters.Cursor != "" {
		cmp := ">"
		if filters.Descending {
			cmp = "<"
		}
		// Keyset pagination anchored on the cursor row's sort value, with the
		// id as tiebreak for rows sharing it.
		where = append(where, fmt.Sprintf(
			`(%[1]s %[2]s (SELECT %[1]s FROM incident_snapshots WHERE id = ?)
				OR (%[1]s = (SELECT %[1]s FROM incident_snapshots WHERE id = ?) AND id %[2]s ?))`,
			column, cmp))
		args = append(args, filters.Cursor, filters.Cursor, filters.Cursor)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit+1)

	query := `SELECT ` + snapshotColumns + ` FROM incident_snapshots WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY %s %s, id %s LIMIT ?`, column, direction, direction)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []models.IncidentSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(snapshots) > limit {
		snapshots = snapshots[:limit]
		nextCursor = snapshots[limit-1].ID
	}
	return snapshots, nextCursor, nil
}

// IncidentDetails loads a snapshot along with its signals and actions in
// timestamp order.
func (s *Store) IncidentDetails(ctx context.Context, orgID, incidentID string) (models.IncidentDetails, error) {
	snap, err := s.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return models.IncidentDetails{}, err
	}

	signals, err := s.Signals(ctx, orgID, incidentID)
	if err != nil {
		return models.IncidentDetails{}, err
	}

	actions, err := s.Actions(ctx, orgID, incidentID)
	if err != nil {
		return models.IncidentDetails{}, err
	}

	return models.IncidentDetails{IncidentSnapshot: snap, Signals: signals, Actions: actions}, nil
}

// Events returns an incident's event log in append order. The monotonic seq
// column, not the timestamp, is the replay order.
func (s *Store) Events(ctx context.Context, orgID, incidentID string) ([]models.IncidentEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, incident_id, org_id, type, payload, ts FROM incident_events
		WHERE org_id = ? AND incident_id = ? ORDER BY seq ASC`,
		orgID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.IncidentEvent
	for rows.Next() {
		var (
			event   models.IncidentEvent
			evtType string
			payload string
			ts      string
		)
		if err := rows.Scan(&event.Seq, &event.IncidentID, &event.OrgID, &evtType, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = models.EventType(evtType)
		if event.Payload, err = models.DecodePayload(event.Type, []byte(payload)); err != nil {
			return nil, err
		}
		if event.TS, err = parseTS(ts); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Signals returns an incident's signals ordered by observation time.
func (s *Store) Signals(ctx context.Context, orgID, incidentID string) ([]models.IncidentSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, incident_id, org_id, project_id, signal_type, service_name, environment,
			correlation_key, trace_id, source, summary, data, ts
		FROM incident_signals WHERE org_id = ? AND incident_id = ? ORDER BY ts ASC, id ASC`,
		orgID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var signals []models.IncidentSignal
	for rows.Next() {
		var (
			signal  models.IncidentSignal
			sigType string
			data    string
			ts      string
		)
		if err := rows.Scan(&signal.ID, &signal.IncidentID, &signal.OrgID, &signal.ProjectID,
			&sigType, &signal.ServiceName, &signal.Environment, &signal.CorrelationKey,
			&signal.TraceID, &signal.Source, &signal.Summary, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		signal.SignalType = models.SignalType(sigType)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &signal.Data); err != nil {
				return nil, fmt.Errorf("decode signal data: %w", err)
			}
		}
		if signal.TS, err = parseTS(ts); err != nil {
			return nil, err
		}
		signals = append(signals, signal)
	}
	return signals, rows.Err()
}

// Actions returns an incident's actions ordered by timestamp.
func (s *Store) Actions(ctx context.Context, orgID, incidentID string) ([]models.IncidentAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, incident_id, org_id, actor_type, actor_ref, action_kind, label, details, ts
		FROM incident_actions WHERE org_id = ? AND incident_id = ? ORDER BY ts ASC, id ASC`,
		orgID, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []models.IncidentAction
	for rows.Next() {
		var (
			action    models.IncidentAction
			actorType string
			kind      string
			ts        string
		)
		if err := rows.Scan(&action.ID, &action.IncidentID, &action.OrgID, &actorType,
			&action.ActorRef, &kind, &action.Label, &action.Details, &ts); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		action.ActorType = models.ActorType(actorType)
		action.ActionKind = models.ActionKind(kind)
		if action.TS, err = parseTS(ts); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// IncidentsByCorrelationKey finds snapshots whose correlation key set
// contains key, newest first.
func (s *Store) IncidentsByCorrelationKey(ctx context.Context, orgID, key string) ([]models.IncidentSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM incident_snapshots
		WHERE org_id = ? AND EXISTS (
			SELECT 1 FROM json_each(correlation_keys) WHERE json_each.value = ?
		)
		ORDER BY created_at DESC`,
		orgID, key)
	if err != nil {
		return nil, fmt.Errorf("query by correlation key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSnapshots(rows)
}

// RecentIncidentsForService returns a service's newest incidents.
func (s *Store) RecentIncidentsForService(ctx context.Context, orgID, serviceName string, limit int) ([]models.IncidentSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM incident_snapshots
		WHERE org_id = ? AND service_name = ? ORDER BY created_at DESC LIMIT ?`,
		orgID, serviceName, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectSnapshots(rows)
}

func collectSnapshots(rows *sql.Rows) ([]models.IncidentSnapshot, error) {
	var snapshots []models.IncidentSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func inClause(column string, n int) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", n), ",")
	return column + " IN (" + placeholders + ")", make([]any, n)
}

func scanSnapshot(row rowScanner) (models.IncidentSnapshot, error) {
	var (
		snap      models.IncidentSnapshot
		status    string
		severity  string
		corrKeys  string
		pathKeys  string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&snap.ID, &snap.OrgID, &snap.ProjectID, &snap.Title, &snap.ServiceName,
		&status, &severity, &snap.Environment, &snap.DetectedBy, &snap.RunbookPath,
		&corrKeys, &pathKeys, &createdAt, &updatedAt)
	if err != nil {
		return models.IncidentSnapshot{}, err
	}

	snap.Status = models.IncidentStatus(status)
	snap.Severity = models.IncidentSeverity(severity)
	snap.CorrelationKeys = unmarshalStrings(corrKeys)
	snap.DataPathKeys = unmarshalStrings(pathKeys)
	if snap.CreatedAt, err = parseTS(createdAt); err != nil {
		return models.IncidentSnapshot{}, err
	}
	if snap.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return models.IncidentSnapshot{}, err
	}
	return snap, nil
}
