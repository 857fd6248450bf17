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
)

const flowColumns = `id, org_id, project_id, data_path_key, service_name, environment,
	route, account_id, customer_id, order_id, user_id, event_count, first_seen_at, last_seen_at`

// UpsertFlow atomically creates a flow aggregate or bumps its counter. The
// ON CONFLICT clause makes concurrent upserts for the same key safe: exactly
// one row exists per (org, project, key) and no increment is lost.
// Descriptive fields keep their first-write values.
func (s *Store) UpsertFlow(ctx context.Context, orgID, projectID, serviceName, environment, dataPathKey string, features models.DataPathFeatures, now time.Time) (models.DataPathFlow, bool, error) {
	ts := formatTS(now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO data_path_flows (`+flowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(org_id, project_id, data_path_key) DO UPDATE SET
			event_count = event_count + 1,
			last_seen_at = excluded.last_seen_at
		RETURNING `+flowColumns,
		uuid.NewString(), orgID, projectID, dataPathKey, serviceName, environment,
		features.Route, features.AccountID, features.CustomerID, features.OrderID, features.UserID,
		ts, ts,
	)

	flow, err := scanFlow(row)
	if err != nil {
		return models.DataPathFlow{}, false, fmt.Errorf("upsert flow: %w", err)
	}
	return flow, flow.EventCount == 1, nil
}

// FlowFilters narrows flow listings. Zero values mean "any".
type FlowFilters struct {
	ProjectID   string
	ServiceName string
	Environment string
	DataPathKey string
	Limit       int
}

// ListFlows returns an org's flow aggregates, most recently seen first.
func (s *Store) ListFlows(ctx context.Context, orgID string, filters FlowFilters) ([]models.DataPathFlow, error) {
	where := []string{"org_id = ?"}
	args := []any{orgID}

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
	if filters.DataPathKey != "" {
		where = append(where, "data_path_key = ?")
		args = append(args, filters.DataPathKey)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT ` + flowColumns + ` FROM data_path_flows WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY last_seen_at DESC, event_count DESC LIMIT ?`
	return s.queryFlows(ctx, query, args...)
}

// FlowsForIncident returns the flow aggregates matching an incident's data
// path keys.
func (s *Store) FlowsForIncident(ctx context.Context, orgID string, dataPathKeys []string) ([]models.DataPathFlow, error) {
	if len(dataPathKeys) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(dataPathKeys))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(dataPathKeys)+1)
	args = append(args, orgID)
	for _, key := range dataPathKeys {
		args = append(args, key)
	}

	query := `SELECT ` + flowColumns + ` FROM data_path_flows
		WHERE org_id = ? AND data_path_key IN (` + placeholders + `)
		ORDER BY last_seen_at DESC`
	return s.queryFlows(ctx, query, args...)
}

// ActiveFlows returns a project's busiest flows seen since the cutoff.
func (s *Store) ActiveFlows(ctx context.Context, orgID, projectID string, since time.Time, limit int) ([]models.DataPathFlow, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + flowColumns + ` FROM data_path_flows
		WHERE org_id = ? AND project_id = ? AND last_seen_at >= ?
		ORDER BY event_count DESC, last_seen_at DESC LIMIT ?`
	return s.queryFlows(ctx, query, orgID, projectID, formatTS(since), limit)
}

func (s *Store) queryFlows(ctx context.Context, query string, args ...any) ([]models.DataPathFlow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var flows []models.DataPathFlow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return flows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (models.DataPathFlow, error) {
	var (
		flow      models.DataPathFlow
		firstSeen string
		lastSeen  string
	)
	err := row.Scan(
		&flow.ID, &flow.OrgID, &flow.ProjectID, &flow.DataPathKey, &flow.ServiceName, &flow.Environment,
		&flow.Route, &flow.AccountID, &flow.CustomerID, &flow.OrderID, &flow.UserID,
		&flow.EventCount, &firstSeen, &lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DataPathFlow{}, err
		}
		return models.DataPathFlow{}, err
	}

	if flow.FirstSeenAt, err = parseTS(firstSeen); err != nil {
		return models.DataPathFlow{}, err
	}
	if flow.LastSeenAt, err = parseTS(lastSeen); err != nil {
		return models.DataPathFlow{}, err
	}
	return flow, nil
}
