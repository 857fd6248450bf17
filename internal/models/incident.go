package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// IncidentStatus enumerates incident lifecycle states.
type IncidentStatus string

const (
	StatusOpen          IncidentStatus = "OPEN"
	StatusInvestigating IncidentStatus = "INVESTIGATING"
	StatusMitigated     IncidentStatus = "MITIGATED"
	StatusResolved      IncidentStatus = "RESOLVED"
	StatusCancelled     IncidentStatus = "CANCELLED"
)

// ValidStatus reports whether s is a recognised incident status.
func ValidStatus(s IncidentStatus) bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusMitigated, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// IncidentSeverity enumerates impact levels, SEV1 being the most severe.
type IncidentSeverity string

const (
	SeveritySev1 IncidentSeverity = "SEV1"
	SeveritySev2 IncidentSeverity = "SEV2"
	SeveritySev3 IncidentSeverity = "SEV3"
	SeveritySev4 IncidentSeverity = "SEV4"
)

// ValidSeverity reports whether s is a recognised incident severity.
func ValidSeverity(s IncidentSeverity) bool {
	switch s {
	case SeveritySev1, SeveritySev2, SeveritySev3, SeveritySev4:
		return true
	}
	return false
}

// SignalType categorises ingested telemetry signals.
type SignalType string

const (
	SignalAlert        SignalType = "ALERT"
	SignalMetricSpike  SignalType = "METRIC_SPIKE"
	SignalErrorBurst   SignalType = "ERROR_BURST"
	SignalLogPattern   SignalType = "LOG_PATTERN"
	SignalTraceAnomaly SignalType = "TRACE_ANOMALY"
)

// ActorType identifies who performed an incident action.
type ActorType string

const (
	ActorUser      ActorType = "USER"
	ActorSystem    ActorType = "SYSTEM"
	ActorConnector ActorType = "CONNECTOR"
)

// ActionKind enumerates recordable incident actions.
type ActionKind string

const (
	ActionRunbookStep    ActionKind = "RUNBOOK_STEP_EXECUTED"
	ActionRollback       ActionKind = "ROLLBACK_TRIGGERED"
	ActionScaleChange    ActionKind = "SCALE_CHANGE"
	ActionNote           ActionKind = "NOTE"
	ActionStatusChange   ActionKind = "STATUS_CHANGE"
	ActionSeverityChange ActionKind = "SEVERITY_CHANGE"
	ActionTagAdded       ActionKind = "TAG_ADDED"
	ActionTagRemoved     ActionKind = "TAG_REMOVED"
)

// EventType tags entries in the incident event log.
type EventType string

const (
	EventIncidentCreated        EventType = "INCIDENT_CREATED"
	EventStatusChanged          EventType = "INCIDENT_STATUS_CHANGED"
	EventSeverityChanged        EventType = "INCIDENT_SEVERITY_CHANGED"
	EventSignalIngested         EventType = "INCIDENT_SIGNAL_INGESTED"
	EventNoteAdded              EventType = "INCIDENT_NOTE_ADDED"
	EventPlaybookActionExecuted EventType = "INCIDENT_PLAYBOOK_ACTION_EXECUTED"
	EventIncidentResolved       EventType = "INCIDENT_RESOLVED"
)

// IncidentEvent is one immutable entry in an incident's append-only log.
// Seq is assigned by the store and is the authoritative replay order.
type IncidentEvent struct {
	Seq        int64
	IncidentID string
	OrgID      string
	Type       EventType
	Payload    any
	TS         time.Time
}

// CreatedPayload is the payload of EventIncidentCreated.
type CreatedPayload struct {
	Version               int              `json:"version"`
	Title                 string           `json:"title"`
	ServiceName           string           `json:"serviceName"`
	Severity              IncidentSeverity `json:"severity"`
	Environment           string           `json:"environment"`
	DetectedBy            string           `json:"detectedBy"`
	ProjectID             string           `json:"projectId"`
	InitialCorrelationKey string           `json:"initialCorrelationKey,omitempty"`
	RunbookPath           string           `json:"runbookPath,omitempty"`
}

// StatusChangedPayload is the payload of EventStatusChanged.
type StatusChangedPayload struct {
	Version   int            `json:"version"`
	OldStatus IncidentStatus `json:"oldStatus"`
	NewStatus IncidentStatus `json:"newStatus"`
	ActorID   string         `json:"actorId"`
	Reason    string         `json:"reason,omitempty"`
}

// SeverityChangedPayload is the payload of EventSeverityChanged.
type SeverityChangedPayload struct {
	Version     int              `json:"version"`
	OldSeverity IncidentSeverity `json:"oldSeverity"`
	NewSeverity IncidentSeverity `json:"newSeverity"`
	ActorID     string           `json:"actorId"`
	Reason      string           `json:"reason,omitempty"`
}

// SignalIngestedPayload is the payload of EventSignalIngested.
type SignalIngestedPayload struct {
	Version        int            `json:"version"`
	SignalID       string         `json:"signalId"`
	SignalType     SignalType     `json:"signalType"`
	Source         string         `json:"source"`
	Summary        string         `json:"summary"`
	CorrelationKey string         `json:"correlationKey,omitempty"`
	TraceID        string         `json:"traceId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// NoteAddedPayload is the payload of EventNoteAdded.
type NoteAddedPayload struct {
	Version int    `json:"version"`
	ActorID string `json:"actorId"`
	Note    string `json:"note"`
}

// ActionExecutedPayload is the payload of EventPlaybookActionExecuted.
type ActionExecutedPayload struct {
	Version    int        `json:"version"`
	ActorType  ActorType  `json:"actorType"`
	ActorID    string     `json:"actorId"`
	ActionKind ActionKind `json:"actionKind"`
	Label      string     `json:"label"`
	Details    string     `json:"details,omitempty"`
}

// ResolvedPayload is the payload of EventIncidentResolved.
type ResolvedPayload struct {
	Version int    `json:"version"`
	ActorID string `json:"actorId"`
	Reason  string `json:"reason,omitempty"`
}

// DecodePayload unmarshals a stored JSON payload into the concrete struct
// matching the event type. Unrecognised types decode into a generic map so
// replay stays forward compatible.
func DecodePayload(t EventType, raw []byte) (any, error) {
	var target any
	switch t {
	case EventIncidentCreated:
		target = &CreatedPayload{}
	case EventStatusChanged:
		target = &StatusChangedPayload{}
	case EventSeverityChanged:
		target = &SeverityChangedPayload{}
	case EventSignalIngested:
		target = &SignalIngestedPayload{}
	case EventNoteAdded:
		target = &NoteAddedPayload{}
	case EventPlaybookActionExecuted:
		target = &ActionExecutedPayload{}
	case EventIncidentResolved:
		target = &ResolvedPayload{}
	default:
		target = &map[string]any{}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return target, nil
}

// IncidentSnapshot is the current-state projection of an incident's log.
type IncidentSnapshot struct {
	ID              string
	OrgID           string
	ProjectID       string
	Title           string
	ServiceName     string
	Status          IncidentStatus
	Severity        IncidentSeverity
	Environment     string
	DetectedBy      string
	RunbookPath     string
	CorrelationKeys []string
	DataPathKeys    []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasCorrelationKey reports whether key is already recorded on the snapshot.
func (s *IncidentSnapshot) HasCorrelationKey(key string) bool {
	for _, k := range s.CorrelationKeys {
		if k == key {
			return true
		}
	}
	return false
}

// IncidentSignal is one observed telemetry event attached to an incident.
type IncidentSignal struct {
	ID             string
	IncidentID     string
	OrgID          string
	ProjectID      string
	SignalType     SignalType
	ServiceName    string
	Environment    string
	CorrelationKey string
	TraceID        string
	Source         string
	Summary        string
	Data           map[string]any
	TS             time.Time
}

// IncidentAction records something done about an incident.
type IncidentAction struct {
	ID         string
	IncidentID string
	OrgID      string
	ActorType  ActorType
	ActorRef   string
	ActionKind ActionKind
	Label      string
	Details    string
	TS         time.Time
}

// IncidentDetails bundles a snapshot with its signals and actions.
type IncidentDetails struct {
	IncidentSnapshot
	Signals []IncidentSignal
	Actions []IncidentAction
}
