// Package incidents implements the event-sourced incident core: an
// append-only event log, a pure snapshot projector, and the command handlers
// that keep both consistent inside one transaction.
package incidents

import (
	"fmt"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

// ApplyEvent folds one event into a snapshot. It is a pure function: the
// stored snapshot must always equal the left-fold of ApplyEvent over the
// incident's event log in append order, even though command handlers update
// it incrementally.
//
// prior is nil only for EventIncidentCreated, which produces the entire
// initial snapshot. Unrecognised event types bump UpdatedAt and nothing else,
// so replay stays forward compatible.
func ApplyEvent(event models.IncidentEvent, prior *models.IncidentSnapshot) models.IncidentSnapshot {
	var snap models.IncidentSnapshot
	if prior != nil {
		snap = *prior
		snap.CorrelationKeys = append([]string(nil), prior.CorrelationKeys...)
		snap.DataPathKeys = append([]string(nil), prior.DataPathKeys...)
	}
	snap.UpdatedAt = event.TS

	switch payload := event.Payload.(type) {
	case *models.CreatedPayload:
		snap = models.IncidentSnapshot{
			ID:           event.IncidentID,
			OrgID:        event.OrgID,
			ProjectID:    payload.ProjectID,
			Title:        payload.Title,
			ServiceName:  payload.ServiceName,
			Status:       models.StatusOpen,
			Severity:     payload.Severity,
			Environment:  payload.Environment,
			DetectedBy:   payload.DetectedBy,
			RunbookPath:  payload.RunbookPath,
			DataPathKeys: []string{},
			CreatedAt:    event.TS,
			UpdatedAt:    event.TS,
		}
		snap.CorrelationKeys = []string{}
		if payload.InitialCorrelationKey != "" {
			snap.CorrelationKeys = []string{payload.InitialCorrelationKey}
		}

	case *models.StatusChangedPayload:
		snap.Status = payload.NewStatus

	case *models.SeverityChangedPayload:
		snap.Severity = payload.NewSeverity

	case *models.SignalIngestedPayload:
		if payload.CorrelationKey != "" && !snap.HasCorrelationKey(payload.CorrelationKey) {
			snap.CorrelationKeys = append(snap.CorrelationKeys, payload.CorrelationKey)
		}

	case *models.ResolvedPayload:
		snap.Status = models.StatusResolved
	}

	return snap
}

// DeriveAction builds the single action row some event types deterministically
// produce. Returns nil for event types that produce none. The returned action
// has no ID; the command handler assigns one before persisting.
func DeriveAction(event models.IncidentEvent) *models.IncidentAction {
	switch payload := event.Payload.(type) {
	case *models.StatusChangedPayload:
		return &models.IncidentAction{
			IncidentID: event.IncidentID,
			OrgID:      event.OrgID,
			ActorType:  models.ActorUser,
			ActorRef:   payload.ActorID,
			ActionKind: models.ActionStatusChange,
			Label:      fmt.Sprintf("Changed status from %s to %s", payload.OldStatus, payload.NewStatus),
			Details:    payload.Reason,
			TS:         event.TS,
		}

	case *models.SeverityChangedPayload:
		return &models.IncidentAction{
			IncidentID: event.IncidentID,
			OrgID:      event.OrgID,
			ActorType:  models.ActorUser,
			ActorRef:   payload.ActorID,
			ActionKind: models.ActionSeverityChange,
			Label:      fmt.Sprintf("Changed severity from %s to %s", payload.OldSeverity, payload.NewSeverity),
			Details:    payload.Reason,
			TS:         event.TS,
		}

	case *models.NoteAddedPayload:
		return &models.IncidentAction{
			IncidentID: event.IncidentID,
			OrgID:      event.OrgID,
			ActorType:  models.ActorUser,
			ActorRef:   payload.ActorID,
			ActionKind: models.ActionNote,
			Label:      "Added note",
			Details:    payload.Note,
			TS:         event.TS,
		}

	case *models.ActionExecutedPayload:
		actorType := payload.ActorType
		if actorType == "" {
			actorType = models.ActorUser
		}
		return &models.IncidentAction{
			IncidentID: event.IncidentID,
			OrgID:      event.OrgID,
			ActorType:  actorType,
			ActorRef:   payload.ActorID,
			ActionKind: payload.ActionKind,
			Label:      payload.Label,
			Details:    payload.Details,
			TS:         event.TS,
		}
	}
	return nil
}

// Replay folds a full event list from an empty state. Events must already be
// in append order.
func Replay(events []models.IncidentEvent) models.IncidentSnapshot {
	var snap models.IncidentSnapshot
	for i, event := range events {
		if i == 0 {
			snap = ApplyEvent(event, nil)
			continue
		}
		snap = ApplyEvent(event, &snap)
	}
	return snap
}
