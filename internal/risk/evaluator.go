package risk

import (
	"fmt"
	"strings"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

type dimensionScore struct {
	score  float64
	status models.SLAWatchStatus
}

// Evaluate scores one normalized event against the SLA thresholds. It is
// stateless: no history is consulted. Returns nil when the event carries no
// metrics or every metric is clean. When multiple metrics are risky, the
// single highest-scoring dimension determines both status and riskScore.
func Evaluate(event models.NormalizedEvent, thresholds models.SLAThresholds) *models.SLAWatchUpdate {
	if event.Metrics == nil {
		return nil
	}

	maxScore := 0.0
	status := models.WatchCleared
	var riskFactors []string

	if event.Metrics.ErrorRate != nil {
		rate := *event.Metrics.ErrorRate
		dim := scoreUpward(rate, thresholds.ErrorRate)
		if dim.score > maxScore {
			maxScore = dim.score
			status = dim.status
		}
		if dim.score > 0 {
			riskFactors = append(riskFactors, fmt.Sprintf("Error rate: %.2f%%", rate*100))
		}
	}

	if event.Metrics.LatencyMs != nil {
		latency := *event.Metrics.LatencyMs
		dim := scoreUpward(latency, thresholds.LatencyMs)
		if dim.score > maxScore {
			maxScore = dim.score
			status = dim.status
		}
		if dim.score > 0 {
			riskFactors = append(riskFactors, fmt.Sprintf("Latency: %gms", latency))
		}
	}

	if event.Metrics.Availability != nil {
		availability := *event.Metrics.Availability
		dim := scoreDownward(availability, thresholds.Availability)
		if dim.score > maxScore {
			maxScore = dim.score
			status = dim.status
		}
		if dim.score > 0 {
			riskFactors = append(riskFactors, fmt.Sprintf("Availability: %.2f%%", availability*100))
		}
	}

	if maxScore == 0 {
		return nil
	}

	logsSnapshot := relevantLogs(event.Logs)
	if len(logsSnapshot) == 0 && len(riskFactors) > 0 {
		logsSnapshot = append(logsSnapshot, models.LogLine{
			Level:     "WARN",
			Message:   "SLA threshold approaching: " + strings.Join(riskFactors, ", "),
			Timestamp: event.Timestamp,
		})
	}

	return &models.SLAWatchUpdate{
		OrgID:          event.OrgID,
		ProjectID:      event.ProjectID,
		ServiceName:    event.ServiceName,
		Environment:    event.Environment,
		CorrelationKey: event.CorrelationKey,
		DataPathKey:    event.DataPathKey,
		Status:         status,
		RiskScore:      maxScore,
		Source:         event.Source,
		LogsSnapshot:   logsSnapshot,
	}
}

// scoreUpward scores a metric that breaches when it rises (error rate,
// latency). In the warning band the score interpolates linearly over
// [0.5, 0.9); above critical it grows proportionally toward 1.0, capped.
func scoreUpward(value float64, band models.Band) dimensionScore {
	if value >= band.Critical {
		return dimensionScore{score: min(1.0, value/band.Critical), status: models.WatchBreached}
	}
	if value >= band.Warning {
		ratio := (value - band.Warning) / (band.Critical - band.Warning)
		return dimensionScore{score: 0.5 + ratio*0.4, status: models.WatchAtRisk}
	}
	return dimensionScore{status: models.WatchCleared}
}

// scoreDownward scores a metric that breaches when it falls (availability).
func scoreDownward(value float64, band models.Band) dimensionScore {
	if value <= band.Critical {
		score := min(1.0, (band.Warning-value)/(band.Warning-band.Critical))
		return dimensionScore{score: score, status: models.WatchBreached}
	}
	if value <= band.Warning {
		ratio := (band.Warning - value) / (band.Warning - band.Critical)
		return dimensionScore{score: 0.5 + ratio*0.4, status: models.WatchAtRisk}
	}
	return dimensionScore{status: models.WatchCleared}
}

// relevantLogs keeps up to five ERROR/WARN lines from the event's log
// attachments, in original order.
func relevantLogs(logs []models.LogLine) []models.LogLine {
	var kept []models.LogLine
	for _, line := range logs {
		if line.Level != "ERROR" && line.Level != "WARN" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == 5 {
			break
		}
	}
	return kept
}
