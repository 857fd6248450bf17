package incidents

import (
	"context"

	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/store"
)

// ListFilters re-exports the store's listing filters for callers that only
// hold the service.
type ListFilters = store.IncidentFilters

// List returns a filtered page of incident snapshots plus the next cursor.
func (s *Service) List(ctx context.Context, orgID string, filters ListFilters) ([]models.IncidentSnapshot, string, error) {
	return s.store.ListIncidents(ctx, orgID, filters)
}

// Get loads a single incident snapshot.
func (s *Service) Get(ctx context.Context, orgID, incidentID string) (models.IncidentSnapshot, error) {
	return s.store.GetSnapshot(ctx, orgID, incidentID)
}

// Details loads a snapshot together with its signals and actions.
func (s *Service) Details(ctx context.Context, orgID, incidentID string) (models.IncidentDetails, error) {
	return s.store.IncidentDetails(ctx, orgID, incidentID)
}

// Events returns the incident's event log in append order.
func (s *Service) Events(ctx context.Context, orgID, incidentID string) ([]models.IncidentEvent, error) {
	return s.store.Events(ctx, orgID, incidentID)
}

// ByCorrelationKey finds incidents whose correlation key set contains key.
func (s *Service) ByCorrelationKey(ctx context.Context, orgID, key string) ([]models.IncidentSnapshot, error) {
	return s.store.IncidentsByCorrelationKey(ctx, orgID, key)
}

// RecentForService returns a service's newest incidents.
func (s *Service) RecentForService(ctx context.Context, orgID, serviceName string, limit int) ([]models.IncidentSnapshot, error) {
	return s.store.RecentIncidentsForService(ctx, orgID, serviceName, limit)
}

// ReplaySnapshot rebuilds the snapshot from the event log alone. Useful for
// verifying the stored snapshot has not drifted from the log.
func (s *Service) ReplaySnapshot(ctx context.Context, orgID, incidentID string) (models.IncidentSnapshot, error) {
	events, err := s.store.Events(ctx, orgID, incidentID)
	if err != nil {
		return models.IncidentSnapshot{}, err
	}
	return Replay(events), nil
}
