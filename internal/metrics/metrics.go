package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels commands that committed.
	OutcomeSuccess = "success"
	// OutcomeError labels commands rejected by validation or the store.
	OutcomeError = "error"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pathwatch",
			Name:      "incident_commands_total",
			Help:      "Incident commands handled, partitioned by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	commandDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pathwatch",
			Name:      "incident_command_seconds",
			Help:      "Incident command latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pathwatch",
			Name:      "incident_events_appended_total",
			Help:      "Events appended to incident logs, partitioned by event type.",
		},
		[]string{"type"},
	)

	flowUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pathwatch",
			Name:      "data_path_flow_upserts_total",
			Help:      "Data path flow upserts, partitioned by created vs incremented.",
		},
		[]string{"result"},
	)

	graphBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pathwatch",
			Name:      "service_graph_builds_total",
			Help:      "Service graph builds, partitioned by cache outcome.",
		},
		[]string{"cache"},
	)

	watchUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pathwatch",
			Name:      "sla_watch_updates_total",
			Help:      "SLA watch updates produced by the risk evaluator, by status.",
		},
		[]string{"status"},
	)
)

// Register attaches pathwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		commandsTotal,
		commandDurationSeconds,
		eventsAppendedTotal,
		flowUpsertsTotal,
		graphBuildsTotal,
		watchUpdatesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCommand records a command duration and outcome label.
func ObserveCommand(command string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	commandsTotal.WithLabelValues(command, label).Inc()
	if duration < 0 {
		duration = 0
	}
	commandDurationSeconds.Observe(duration.Seconds())
}

// CountEventAppended increments the appended-event counter for an event type.
func CountEventAppended(eventType string) {
	eventsAppendedTotal.WithLabelValues(eventType).Inc()
}

// CountFlowUpsert records whether a flow upsert created a new aggregate.
func CountFlowUpsert(created bool) {
	result := "incremented"
	if created {
		result = "created"
	}
	flowUpsertsTotal.WithLabelValues(result).Inc()
}

// CountGraphBuild records a service graph build and its cache outcome.
func CountGraphBuild(cacheHit bool) {
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	graphBuildsTotal.WithLabelValues(label).Inc()
}

// CountWatchUpdate records an SLA watch update by resulting status.
func CountWatchUpdate(status string) {
	watchUpdatesTotal.WithLabelValues(status).Inc()
}
