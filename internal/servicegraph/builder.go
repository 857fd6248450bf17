package servicegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/cache"
	"github.com/pathwatch/pathwatch-engine/internal/metrics"
	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/store"
)

// Builder derives a per-incident service call-flow graph from the incident's
// persisted signals. Built graphs are cached with a TTL; any signal attach
// must invalidate the cached graph.
type Builder struct {
	store  *store.Store
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger
}

// NewBuilder wires the builder. provider may be cache.NoopProvider{} when
// caching is disabled.
func NewBuilder(st *store.Store, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *Builder {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, cache: provider, ttl: ttl, logger: logger}
}

func cacheKey(orgID, incidentID string) string {
	return "graph:" + orgID + ":" + incidentID
}

// Build returns the service graph for an incident, from cache when fresh.
// Returns utils.ErrNotFound when the incident does not exist in the org.
func (b *Builder) Build(ctx context.Context, orgID, incidentID string) (models.ServiceGraph, error) {
	key := cacheKey(orgID, incidentID)
	if cached, err := b.cache.Get(ctx, key); err == nil {
		var graph models.ServiceGraph
		if err := json.Unmarshal(cached, &graph); err == nil {
			metrics.CountGraphBuild(true)
			return graph, nil
		}
		// Unreadable cache entry: drop it and rebuild.
		_ = b.cache.Del(ctx, key)
	}

	if _, err := b.store.GetSnapshot(ctx, orgID, incidentID); err != nil {
		return models.ServiceGraph{}, err
	}

	signals, err := b.store.Signals(ctx, orgID, incidentID)
	if err != nil {
		return models.ServiceGraph{}, fmt.Errorf("load signals: %w", err)
	}

	graph := BuildFromSignals(signals)
	metrics.CountGraphBuild(false)

	if encoded, err := json.Marshal(graph); err == nil {
		if err := b.cache.Set(ctx, key, encoded, b.ttl); err != nil {
			b.logger.Warn("graph cache write failed",
				slog.String("incident_id", incidentID), slog.Any("error", err))
		}
	}
	return graph, nil
}

// Invalidate drops the cached graph for an incident.
func (b *Builder) Invalidate(ctx context.Context, orgID, incidentID string) {
	if err := b.cache.Del(ctx, cacheKey(orgID, incidentID)); err != nil {
		b.logger.Warn("graph cache invalidation failed",
			slog.String("incident_id", incidentID), slog.Any("error", err))
	}
}

// isErrorSignal classifies a signal by its type tag. The match is a
// case-sensitive substring check against the upper-case signal type constants.
func isErrorSignal(t models.SignalType) bool {
	s := string(t)
	return strings.Contains(s, "ERROR") || strings.Contains(s, "ALERT") || strings.Contains(s, "CRITICAL")
}

func nodeID(serviceName, environment string) string {
	return serviceName + "-" + environment
}

// BuildFromSignals derives the graph from an incident's signal set.
//
// Signals are globally sorted by timestamp, grouped into traces by
// traceId, falling back to correlationKey, falling back to a singleton key
// per signal. Within each trace, consecutive signal pairs form directed
// edges; an edge's errorCount attributes to its destination signal.
// Self-loops are skipped entirely.
func BuildFromSignals(signals []models.IncidentSignal) models.ServiceGraph {
	ordered := append([]models.IncidentSignal(nil), signals...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TS.Before(ordered[j].TS)
	})

	groups := make(map[string][]models.IncidentSignal)
	var groupOrder []string
	for _, sig := range ordered {
		key := sig.TraceID
		if key == "" {
			key = sig.CorrelationKey
		}
		if key == "" {
			key = "single-" + sig.ID
		}
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], sig)
	}

	nodes := make(map[string]*models.ServiceGraphNode)
	edges := make(map[string]*models.ServiceGraphEdge)
	var nodeOrder, edgeOrder []string
	errorEvents := 0

	for _, key := range groupOrder {
		group := groups[key]

		for _, sig := range group {
			id := nodeID(sig.ServiceName, sig.Environment)
			node, ok := nodes[id]
			if !ok {
				node = &models.ServiceGraphNode{
					ID:          id,
					ServiceName: sig.ServiceName,
					Environment: sig.Environment,
				}
				nodes[id] = node
				nodeOrder = append(nodeOrder, id)
			}
			node.TotalEvents++
			if isErrorSignal(sig.SignalType) {
				node.ErrorEvents++
				errorEvents++
			}
		}

		for i := 0; i < len(group)-1; i++ {
			from := nodeID(group[i].ServiceName, group[i].Environment)
			to := nodeID(group[i+1].ServiceName, group[i+1].Environment)
			if from == to {
				continue
			}

			id := from + "->" + to
			edge, ok := edges[id]
			if !ok {
				edge = &models.ServiceGraphEdge{ID: id, From: from, To: to}
				edges[id] = edge
				edgeOrder = append(edgeOrder, id)
			}
			edge.Count++
			if isErrorSignal(group[i+1].SignalType) {
				edge.ErrorCount++
			}
		}
	}

	graph := models.ServiceGraph{
		Nodes: make([]models.ServiceGraphNode, 0, len(nodeOrder)),
		Edges: make([]models.ServiceGraphEdge, 0, len(edgeOrder)),
		Metadata: models.ServiceGraphMetadata{
			TotalTraces: len(groupOrder),
			TotalEvents: len(ordered),
		},
	}
	for _, id := range nodeOrder {
		node := nodes[id]
		if node.TotalEvents > 0 {
			node.ErrorRatio = float64(node.ErrorEvents) / float64(node.TotalEvents)
		}
		graph.Nodes = append(graph.Nodes, *node)
	}
	for _, id := range edgeOrder {
		graph.Edges = append(graph.Edges, *edges[id])
	}
	if len(ordered) > 0 {
		graph.Metadata.ErrorRate = float64(errorEvents) / float64(len(ordered))
	}
	return graph
}

// TopErrorServices returns the nodes with errors, worst first by error
// ratio then absolute error count.
func TopErrorServices(graph models.ServiceGraph, limit int) []models.ServiceGraphNode {
	if limit <= 0 {
		limit = 5
	}

	var erroring []models.ServiceGraphNode
	for _, node := range graph.Nodes {
		if node.ErrorEvents > 0 {
			erroring = append(erroring, node)
		}
	}
	sort.SliceStable(erroring, func(i, j int) bool {
		if erroring[i].ErrorRatio != erroring[j].ErrorRatio {
			return erroring[i].ErrorRatio > erroring[j].ErrorRatio
		}
		return erroring[i].ErrorEvents > erroring[j].ErrorEvents
	})

	if len(erroring) > limit {
		erroring = erroring[:limit]
	}
	return erroring
}

// CriticalPaths returns the edges carrying errors, worst first by error
// ratio then absolute error count.
func CriticalPaths(graph models.ServiceGraph, limit int) []models.ServiceGraphEdge {
	if limit <= 0 {
		limit = 5
	}

	var failing []models.ServiceGraphEdge
	for _, edge := range graph.Edges {
		if edge.ErrorCount > 0 {
			failing = append(failing, edge)
		}
	}
	sort.SliceStable(failing, func(i, j int) bool {
		iRatio := float64(failing[i].ErrorCount) / float64(failing[i].Count)
		jRatio := float64(failing[j].ErrorCount) / float64(failing[j].Count)
		if iRatio != jRatio {
			return iRatio > jRatio
		}
		return failing[i].ErrorCount > failing[j].ErrorCount
	})

	if len(failing) > limit {
		failing = failing[:limit]
	}
	return failing
}
