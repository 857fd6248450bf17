package flows

import (
	"context"
	"log/slog"
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/metrics"
	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/normalize"
	"github.com/pathwatch/pathwatch-engine/internal/store"
)

// Aggregator maintains the per-business-flow counters. Every normalized
// event with a derivable data path key lands on exactly one flow row.
type Aggregator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAggregator wires the aggregator to its store.
func NewAggregator(st *store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: st, logger: logger}
}

// Record derives the event's data path key if it does not already carry one
// and upserts the matching flow aggregate. Events with no derivable key are
// skipped without error: not every telemetry event belongs to a business flow.
// Returns the flow and whether this call created it.
func (a *Aggregator) Record(ctx context.Context, event models.NormalizedEvent) (*models.DataPathFlow, bool, error) {
	if event.DataPathKey == "" {
		event = normalize.EnrichWithDataPath(event)
	}
	if event.DataPathKey == "" {
		return nil, false, nil
	}

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	flow, created, err := a.store.UpsertFlow(ctx, event.OrgID, event.ProjectID,
		event.ServiceName, event.Environment, event.DataPathKey, event.DataPathFeatures, now)
	if err != nil {
		a.logger.Error("flow upsert failed",
			slog.String("data_path_key", event.DataPathKey),
			slog.Any("error", err))
		return nil, false, err
	}

	metrics.CountFlowUpsert(created)
	if created {
		a.logger.Debug("flow created",
			slog.String("data_path_key", flow.DataPathKey),
			slog.String("service", flow.ServiceName))
	}
	return &flow, created, nil
}

// List returns an org's flow aggregates, most recently seen first.
func (a *Aggregator) List(ctx context.Context, orgID string, filters store.FlowFilters) ([]models.DataPathFlow, error) {
	return a.store.ListFlows(ctx, orgID, filters)
}

// ForIncident returns the flows touching an incident's data path keys.
func (a *Aggregator) ForIncident(ctx context.Context, orgID string, snap models.IncidentSnapshot) ([]models.DataPathFlow, error) {
	return a.store.FlowsForIncident(ctx, orgID, snap.DataPathKeys)
}

// Active returns a project's busiest flows within the lookback window.
func (a *Aggregator) Active(ctx context.Context, orgID, projectID string, lookback time.Duration, limit int) ([]models.DataPathFlow, error) {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return a.store.ActiveFlows(ctx, orgID, projectID, time.Now().UTC().Add(-lookback), limit)
}
