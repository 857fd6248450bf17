package models

import "time"

// DataPathFeatures holds the business identifiers extracted from event
// context. An empty string means the feature was not observed.
type DataPathFeatures struct {
	Route      string
	AccountID  string
	CustomerID string
	OrderID    string
	UserID     string
	TenantID   string
}

// Empty reports whether no feature was extracted at all.
func (f DataPathFeatures) Empty() bool {
	return f == DataPathFeatures{}
}

// DataPathFlow is the running aggregate for one business flow, unique per
// (org, project, data path key). Descriptive fields keep their first observed
// values; only EventCount and LastSeenAt move afterwards.
type DataPathFlow struct {
	ID          string
	OrgID       string
	ProjectID   string
	DataPathKey string
	ServiceName string
	Environment string
	Route       string
	AccountID   string
	CustomerID  string
	OrderID     string
	UserID      string
	EventCount  int64
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// EventMetrics carries the streaming metric sample attached to a normalized event.
type EventMetrics struct {
	ErrorRate    *float64
	LatencyMs    *float64
	Throughput   *float64
	Availability *float64
}

// LogLine is a single log record carried on a normalized event.
type LogLine struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizedEvent is the connector-agnostic shape every ingested telemetry
// event is reduced to before correlation.
type NormalizedEvent struct {
	ID               string
	OrgID            string
	ProjectID        string
	ServiceName      string
	Environment      string
	EventType        string
	Source           string
	Timestamp        time.Time
	CorrelationKey   string
	TraceID          string
	DataPathKey      string
	DataPathFeatures DataPathFeatures
	Metrics          *EventMetrics
	Logs             []LogLine
	Metadata         map[string]any
}

// SLAWatchStatus enumerates SLA watch states.
type SLAWatchStatus string

const (
	WatchAtRisk   SLAWatchStatus = "AT_RISK"
	WatchBreached SLAWatchStatus = "BREACHED"
	WatchCleared  SLAWatchStatus = "CLEARED"
)

// SLAWatchUpdate is the outcome of evaluating one normalized event against
// the SLA thresholds.
type SLAWatchUpdate struct {
	OrgID          string
	ProjectID      string
	ServiceName    string
	Environment    string
	CorrelationKey string
	DataPathKey    string
	Status         SLAWatchStatus
	RiskScore      float64
	Source         string
	LogsSnapshot   []LogLine
}

// SLAWatchEntry is a persisted watchlist row.
type SLAWatchEntry struct {
	ID              string
	OrgID           string
	ProjectID       string
	ServiceName     string
	Environment     string
	CorrelationKey  string
	DataPathKey     string
	Status          SLAWatchStatus
	RiskScore       float64
	Source          string
	LogsSnapshot    []LogLine
	FirstDetectedAt time.Time
	LastUpdatedAt   time.Time
}

// Band is a warning/critical threshold pair for one metric dimension.
type Band struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// SLAThresholds groups the per-dimension bands the risk evaluator scores
// against. ErrorRate and latency breach upward, availability downward.
type SLAThresholds struct {
	ErrorRate    Band `yaml:"errorRate"`
	LatencyMs    Band `yaml:"latencyMs"`
	Availability Band `yaml:"availability"`
}

// DefaultSLAThresholds returns the thresholds used when none are configured.
func DefaultSLAThresholds() SLAThresholds {
	return SLAThresholds{
		ErrorRate:    Band{Warning: 0.01, Critical: 0.05},
		LatencyMs:    Band{Warning: 500, Critical: 1000},
		Availability: Band{Warning: 0.99, Critical: 0.95},
	}
}
