package incidents

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pathwatch/pathwatch-engine/internal/metrics"
	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/store"
	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

// GraphInvalidator drops derived per-incident data (the cached service graph)
// after a command changes the incident's signal set.
type GraphInvalidator interface {
	Invalidate(ctx context.Context, orgID, incidentID string)
}

// Service exposes the incident command handlers and queries. Commands
// validate first, then commit the event append, snapshot projection, and any
// derived row as one atomic store write.
type Service struct {
	store       *store.Store
	logger      *slog.Logger
	invalidator GraphInvalidator
	latencies   *utils.LatencyTracker
}

// NewService constructs the incident service. invalidator may be nil.
func NewService(st *store.Store, logger *slog.Logger, invalidator GraphInvalidator) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		logger:      logger,
		invalidator: invalidator,
		latencies:   utils.NewLatencyTracker(1024),
	}
}

// CreateIncidentInput carries the fields needed to open an incident.
type CreateIncidentInput struct {
	OrgID                 string
	ProjectID             string
	Title                 string
	ServiceName           string
	Severity              models.IncidentSeverity
	Environment           string
	DetectedBy            string
	InitialCorrelationKey string
	RunbookPath           string
}

// ChangeStatusInput carries a status transition request.
type ChangeStatusInput struct {
	NewStatus models.IncidentStatus
	ActorID   string
	Reason    string
}

// ChangeSeverityInput carries a severity change request.
type ChangeSeverityInput struct {
	NewSeverity models.IncidentSeverity
	ActorID     string
	Reason      string
}

// AttachSignalInput carries one telemetry observation to attach.
type AttachSignalInput struct {
	SignalType     models.SignalType
	ServiceName    string
	Environment    string
	Source         string
	Summary        string
	CorrelationKey string
	TraceID        string
	Data           map[string]any
}

// AddActionInput records something done about the incident.
type AddActionInput struct {
	ActorType  models.ActorType
	ActorRef   string
	ActionKind models.ActionKind
	Label      string
	Details    string
}

// AddNoteInput carries a free-form investigation note.
type AddNoteInput struct {
	ActorID string
	Note    string
}

// ResolveInput closes out an incident.
type ResolveInput struct {
	ActorID string
	Reason  string
}

// CreateIncident validates the input, appends INCIDENT_CREATED, and writes
// the initial snapshot. Returns the new incident id.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (string, error) {
	start := time.Now()

	if !models.ValidSeverity(input.Severity) {
		return "", s.reject("create_incident", utils.NewValidationError("severity", string(input.Severity)))
	}
	if input.Title == "" {
		return "", s.reject("create_incident", utils.NewValidationError("title", input.Title))
	}
	if input.ServiceName == "" {
		return "", s.reject("create_incident", utils.NewValidationError("serviceName", input.ServiceName))
	}

	incidentID := "inc_" + uuid.NewString()
	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      input.OrgID,
		Type:       models.EventIncidentCreated,
		TS:         time.Now().UTC(),
		Payload: &models.CreatedPayload{
			Version:               1,
			Title:                 input.Title,
			ServiceName:           input.ServiceName,
			Severity:              input.Severity,
			Environment:           input.Environment,
			DetectedBy:            input.DetectedBy,
			ProjectID:             input.ProjectID,
			InitialCorrelationKey: input.InitialCorrelationKey,
			RunbookPath:           input.RunbookPath,
		},
	}

	snap := ApplyEvent(event, nil)
	if err := s.store.CreateIncident(ctx, event, snap); err != nil {
		return "", s.fail("create_incident", start, err)
	}

	s.commit("create_incident", start, event.Type)
	s.logger.Info("incident created",
		slog.String("incident_id", incidentID),
		slog.String("org_id", input.OrgID),
		slog.String("severity", string(input.Severity)))
	return incidentID, nil
}

// ChangeStatus appends INCIDENT_STATUS_CHANGED, updates the snapshot, and
// records the derived STATUS_CHANGE action.
func (s *Service) ChangeStatus(ctx context.Context, orgID, incidentID string, input ChangeStatusInput) error {
	start := time.Now()

	if !models.ValidStatus(input.NewStatus) {
		return s.reject("change_status", utils.NewValidationError("status", string(input.NewStatus)))
	}

	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return s.reject("change_status", err)
	}

	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      orgID,
		Type:       models.EventStatusChanged,
		TS:         time.Now().UTC(),
		Payload: &models.StatusChangedPayload{
			Version:   1,
			OldStatus: snap.Status,
			NewStatus: input.NewStatus,
			ActorID:   input.ActorID,
			Reason:    input.Reason,
		},
	}

	if err := s.apply(ctx, event, &snap, nil); err != nil {
		return s.fail("change_status", start, err)
	}
	s.commit("change_status", start, event.Type)
	return nil
}

// ChangeSeverity appends INCIDENT_SEVERITY_CHANGED, updates the snapshot, and
// records the derived SEVERITY_CHANGE action.
func (s *Service) ChangeSeverity(ctx context.Context, orgID, incidentID string, input ChangeSeverityInput) error {
	start := time.Now()

	if !models.ValidSeverity(input.NewSeverity) {
		return s.reject("change_severity", utils.NewValidationError("severity", string(input.NewSeverity)))
	}

	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return s.reject("change_severity", err)
	}

	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      orgID,
		Type:       models.EventSeverityChanged,
		TS:         time.Now().UTC(),
		Payload: &models.SeverityChangedPayload{
			Version:     1,
			OldSeverity: snap.Severity,
			NewSeverity: input.NewSeverity,
			ActorID:     input.ActorID,
			Reason:      input.Reason,
		},
	}

	if err := s.apply(ctx, event, &snap, nil); err != nil {
		return s.fail("change_severity", start, err)
	}
	s.commit("change_severity", start, event.Type)
	return nil
}

// AttachSignal appends INCIDENT_SIGNAL_INGESTED, persists the signal row, and
// folds any new correlation key into the snapshot. Attaching the same logical
// signal twice creates two rows: signals are observations, not commands.
func (s *Service) AttachSignal(ctx context.Context, orgID, incidentID string, input AttachSignalInput) error {
	start := time.Now()

	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return s.reject("attach_signal", err)
	}

	signalID := "sig_" + uuid.NewString()
	now := time.Now().UTC()
	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      orgID,
		Type:       models.EventSignalIngested,
		TS:         now,
		Payload: &models.SignalIngestedPayload{
			Version:        1,
			SignalID:       signalID,
			SignalType:     input.SignalType,
			Source:         input.Source,
			Summary:        input.Summary,
			CorrelationKey: input.CorrelationKey,
			TraceID:        input.TraceID,
			Data:           input.Data,
		},
	}

	signal := &models.IncidentSignal{
		ID:             signalID,
		IncidentID:     incidentID,
		OrgID:          orgID,
		ProjectID:      snap.ProjectID,
		SignalType:     input.SignalType,
		ServiceName:    input.ServiceName,
		Environment:    input.Environment,
		CorrelationKey: input.CorrelationKey,
		TraceID:        input.TraceID,
		Source:         input.Source,
		Summary:        input.Summary,
		Data:           input.Data,
		TS:             now,
	}

	if err := s.apply(ctx, event, &snap, signal); err != nil {
		return s.fail("attach_signal", start, err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, orgID, incidentID)
	}
	s.commit("attach_signal", start, event.Type)
	return nil
}

// AddAction appends INCIDENT_PLAYBOOK_ACTION_EXECUTED and persists the action
// verbatim from the input.
func (s *Service) AddAction(ctx context.Context, orgID, incidentID string, input AddActionInput) error {
	start := time.Now()

	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return s.reject("add_action", err)
	}

	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      orgID,
		Type:       models.EventPlaybookActionExecuted,
		TS:         time.Now().UTC(),
		Payload: &models.ActionExecutedPayload{
			Version:    1,
			ActorType:  input.ActorType,
			ActorID:    input.ActorRef,
			ActionKind: input.ActionKind,
			Label:      input.Label,
			Details:    input.Details,
		},
	}

	if err := s.apply(ctx, event, &snap, nil); err != nil {
		return s.fail("add_action", start, err)
	}
	s.commit("add_action", start, event.Type)
	return nil
}

// AddNote appends INCIDENT_NOTE_ADDED and records the derived NOTE action.
func (s *Service) AddNote(ctx context.Context, orgID, incidentID string, input AddNoteInput) error {
	start := time.Now()

	if input.Note == "" {
		return s.reject("add_note", utils.NewValidationError("note", input.Note))
	}

	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return s.reject("add_note", err)
	}

	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      orgID,
		Type:       models.EventNoteAdded,
		TS:         time.Now().UTC(),
		Payload: &models.NoteAddedPayload{
			Version: 1,
			ActorID: input.ActorID,
			Note:    input.Note,
		},
	}

	if err := s.apply(ctx, event, &snap, nil); err != nil {
		return s.fail("add_note", start, err)
	}
	s.commit("add_note", start, event.Type)
	return nil
}

// Resolve appends INCIDENT_RESOLVED, moving the incident to RESOLVED.
func (s *Service) Resolve(ctx context.Context, orgID, incidentID string, input ResolveInput) error {
	start := time.Now()

	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return s.reject("resolve_incident", err)
	}

	event := models.IncidentEvent{
		IncidentID: incidentID,
		OrgID:      orgID,
		Type:       models.EventIncidentResolved,
		TS:         time.Now().UTC(),
		Payload: &models.ResolvedPayload{
			Version: 1,
			ActorID: input.ActorID,
			Reason:  input.Reason,
		},
	}

	if err := s.apply(ctx, event, &snap, nil); err != nil {
		return s.fail("resolve_incident", start, err)
	}
	s.commit("resolve_incident", start, event.Type)
	return nil
}

// AddDataPathKey folds a derived data path key into the incident snapshot's
// key set, deduplicated.
func (s *Service) AddDataPathKey(ctx context.Context, orgID, incidentID, dataPathKey string) error {
	snap, err := s.store.GetSnapshot(ctx, orgID, incidentID)
	if err != nil {
		return err
	}
	for _, key := range snap.DataPathKeys {
		if key == dataPathKey {
			return nil
		}
	}

	snap.DataPathKeys = append(snap.DataPathKeys, dataPathKey)
	snap.UpdatedAt = time.Now().UTC()
	return s.store.UpdateSnapshotKeys(ctx, snap)
}

// apply runs the projector and commits event + snapshot + derived rows.
func (s *Service) apply(ctx context.Context, event models.IncidentEvent, prior *models.IncidentSnapshot, signal *models.IncidentSignal) error {
	next := ApplyEvent(event, prior)

	action := DeriveAction(event)
	if action != nil {
		action.ID = "act_" + uuid.NewString()
	}

	return s.store.AppendWithSnapshot(ctx, event, next, signal, action)
}

func (s *Service) reject(command string, err error) error {
	metrics.ObserveCommand(command, 0, metrics.OutcomeError)
	return err
}

func (s *Service) fail(command string, start time.Time, err error) error {
	metrics.ObserveCommand(command, time.Since(start), metrics.OutcomeError)
	s.logger.Error("incident command failed", slog.String("command", command), slog.Any("error", err))
	return err
}

func (s *Service) commit(command string, start time.Time, eventType models.EventType) {
	duration := time.Since(start)
	metrics.ObserveCommand(command, duration, metrics.OutcomeSuccess)
	metrics.CountEventAppended(string(eventType))
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("command latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// LatencyP95 returns the current p95 command latency.
func (s *Service) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}
