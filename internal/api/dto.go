package api

import (
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

type snapshotDTO struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"orgId"`
	ProjectID       string    `json:"projectId"`
	Title           string    `json:"title"`
	ServiceName     string    `json:"serviceName"`
	Status          string    `json:"status"`
	Severity        string    `json:"severity"`
	Environment     string    `json:"environment"`
	DetectedBy      string    `json:"detectedBy"`
	RunbookPath     string    `json:"runbookPath,omitempty"`
	CorrelationKeys []string  `json:"correlationKeys"`
	DataPathKeys    []string  `json:"dataPathKeys"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toSnapshotDTO(snap models.IncidentSnapshot) snapshotDTO {
	return snapshotDTO{
		ID:              snap.ID,
		OrgID:           snap.OrgID,
		ProjectID:       snap.ProjectID,
		Title:           snap.Title,
		ServiceName:     snap.ServiceName,
		Status:          string(snap.Status),
		Severity:        string(snap.Severity),
		Environment:     snap.Environment,
		DetectedBy:      snap.DetectedBy,
		RunbookPath:     snap.RunbookPath,
		CorrelationKeys: emptyIfNil(snap.CorrelationKeys),
		DataPathKeys:    emptyIfNil(snap.DataPathKeys),
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       snap.UpdatedAt,
	}
}

func toSnapshotDTOs(snapshots []models.IncidentSnapshot) []snapshotDTO {
	out := make([]snapshotDTO, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, toSnapshotDTO(snap))
	}
	return out
}

type signalDTO struct {
	ID             string         `json:"id"`
	SignalType     string         `json:"signalType"`
	ServiceName    string         `json:"serviceName"`
	Environment    string         `json:"environment"`
	CorrelationKey string         `json:"correlationKey,omitempty"`
	TraceID        string         `json:"traceId,omitempty"`
	Source         string         `json:"source"`
	Summary        string         `json:"summary"`
	Data           map[string]any `json:"data,omitempty"`
	TS             time.Time      `json:"ts"`
}

type actionDTO struct {
	ID         string    `json:"id"`
	ActorType  string    `json:"actorType"`
	ActorRef   string    `json:"actorRef"`
	ActionKind string    `json:"actionKind"`
	Label      string    `json:"label"`
	Details    string    `json:"details,omitempty"`
	TS         time.Time `json:"ts"`
}

type detailsDTO struct {
	snapshotDTO
	Signals []signalDTO `json:"signals"`
	Actions []actionDTO `json:"actions"`
}

func toDetailsDTO(details models.IncidentDetails) detailsDTO {
	out := detailsDTO{
		snapshotDTO: toSnapshotDTO(details.IncidentSnapshot),
		Signals:     make([]signalDTO, 0, len(details.Signals)),
		Actions:     make([]actionDTO, 0, len(details.Actions)),
	}
	for _, sig := range details.Signals {
		out.Signals = append(out.Signals, signalDTO{
			ID:             sig.ID,
			SignalType:     string(sig.SignalType),
			ServiceName:    sig.ServiceName,
			Environment:    sig.Environment,
			CorrelationKey: sig.CorrelationKey,
			TraceID:        sig.TraceID,
			Source:         sig.Source,
			Summary:        sig.Summary,
			Data:           sig.Data,
			TS:             sig.TS,
		})
	}
	for _, act := range details.Actions {
		out.Actions = append(out.Actions, actionDTO{
			ID:         act.ID,
			ActorType:  string(act.ActorType),
			ActorRef:   act.ActorRef,
			ActionKind: string(act.ActionKind),
			Label:      act.Label,
			Details:    act.Details,
			TS:         act.TS,
		})
	}
	return out
}

type eventDTO struct {
	Seq     int64     `json:"seq"`
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	TS      time.Time `json:"ts"`
}

func toEventDTOs(events []models.IncidentEvent) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, eventDTO{
			Seq:     event.Seq,
			Type:    string(event.Type),
			Payload: event.Payload,
			TS:      event.TS,
		})
	}
	return out
}

type flowDTO struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	DataPathKey string    `json:"dataPathKey"`
	ServiceName string    `json:"serviceName"`
	Environment string    `json:"environment"`
	Route       string    `json:"route,omitempty"`
	AccountID   string    `json:"accountId,omitempty"`
	CustomerID  string    `json:"customerId,omitempty"`
	OrderID     string    `json:"orderId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	EventCount  int64     `json:"eventCount"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

func toFlowDTOs(result []models.DataPathFlow) []flowDTO {
	out := make([]flowDTO, 0, len(result))
	for _, flow := range result {
		out = append(out, flowDTO{
			ID:          flow.ID,
			ProjectID:   flow.ProjectID,
			DataPathKey: flow.DataPathKey,
			ServiceName: flow.ServiceName,
			Environment: flow.Environment,
			Route:       flow.Route,
			AccountID:   flow.AccountID,
			CustomerID:  flow.CustomerID,
			OrderID:     flow.OrderID,
			UserID:      flow.UserID,
			EventCount:  flow.EventCount,
			FirstSeenAt: flow.FirstSeenAt,
			LastSeenAt:  flow.LastSeenAt,
		})
	}
	return out
}

type watchDTO struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"projectId"`
	ServiceName     string           `json:"serviceName"`
	Environment     string           `json:"environment"`
	CorrelationKey  string           `json:"correlationKey,omitempty"`
	DataPathKey     string           `json:"dataPathKey,omitempty"`
	Status          string           `json:"status"`
	RiskScore       float64          `json:"riskScore"`
	Source          string           `json:"source"`
	LogsSnapshot    []models.LogLine `json:"logsSnapshot"`
	FirstDetectedAt time.Time        `json:"firstDetectedAt"`
	LastUpdatedAt   time.Time        `json:"lastUpdatedAt"`
}

func toWatchDTO(entry models.SLAWatchEntry) watchDTO {
	logs := entry.LogsSnapshot
	if logs == nil {
		logs = []models.LogLine{}
	}
	return watchDTO{
		ID:              entry.ID,
		ProjectID:       entry.ProjectID,
		ServiceName:     entry.ServiceName,
		Environment:     entry.Environment,
		CorrelationKey:  entry.CorrelationKey,
		DataPathKey:     entry.DataPathKey,
		Status:          string(entry.Status),
		RiskScore:       entry.RiskScore,
		Source:          entry.Source,
		LogsSnapshot:    logs,
		FirstDetectedAt: entry.FirstDetectedAt,
		LastUpdatedAt:   entry.LastUpdatedAt,
	}
}

func toWatchDTOs(entries []models.SLAWatchEntry) []watchDTO {
	out := make([]watchDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toWatchDTO(entry))
	}
	return out
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
