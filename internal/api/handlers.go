package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pathwatch/pathwatch-engine/internal/flows"
	"github.com/pathwatch/pathwatch-engine/internal/incidents"
	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/normalize"
	"github.com/pathwatch/pathwatch-engine/internal/risk"
	"github.com/pathwatch/pathwatch-engine/internal/servicegraph"
	"github.com/pathwatch/pathwatch-engine/internal/store"
	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

// Handlers contains the HTTP handlers for the correlation engine API.
type Handlers struct {
	incidents *incidents.Service
	flows     *flows.Aggregator
	graphs    *servicegraph.Builder
	watchlist *risk.Watchlist
	logger    *slog.Logger
}

// NewHandlers creates handlers over the engine services.
func NewHandlers(inc *incidents.Service, fl *flows.Aggregator, gr *servicegraph.Builder, wl *risk.Watchlist, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{incidents: inc, flows: fl, graphs: gr, watchlist: wl, logger: logger}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondError(c *gin.Context, err error) {
	switch {
	case utils.IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"})
	case errors.Is(err, utils.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: "NOT_FOUND"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL_ERROR"})
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
}

type createIncidentRequest struct {
	ProjectID             string `json:"projectId"`
	Title                 string `json:"title"`
	ServiceName           string `json:"serviceName"`
	Severity              string `json:"severity"`
	Environment           string `json:"environment"`
	DetectedBy            string `json:"detectedBy"`
	InitialCorrelationKey string `json:"initialCorrelationKey"`
	RunbookPath           string `json:"runbookPath"`
}

// CreateIncident handles POST /v1/orgs/:orgId/incidents.
func (h *Handlers) CreateIncident(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	id, err := h.incidents.CreateIncident(c.Request.Context(), incidents.CreateIncidentInput{
		OrgID:                 c.Param("orgId"),
		ProjectID:             req.ProjectID,
		Title:                 req.Title,
		ServiceName:           req.ServiceName,
		Severity:              models.IncidentSeverity(req.Severity),
		Environment:           req.Environment,
		DetectedBy:            req.DetectedBy,
		InitialCorrelationKey: req.InitialCorrelationKey,
		RunbookPath:           req.RunbookPath,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"incidentId": id})
}

// ListIncidents handles GET /v1/orgs/:orgId/incidents.
func (h *Handlers) ListIncidents(c *gin.Context) {
	filters := store.IncidentFilters{
		ProjectID:   c.Query("projectId"),
		Environment: c.Query("environment"),
		SearchQuery: c.Query("q"),
		SortBy:      c.Query("sortBy"),
		Descending:  c.Query("order") != "asc",
		Cursor:      c.Query("cursor"),
	}
	for _, s := range splitCSV(c.Query("status")) {
		filters.Status = append(filters.Status, models.IncidentStatus(s))
	}
	for _, s := range splitCSV(c.Query("severity")) {
		filters.Severity = append(filters.Severity, models.IncidentSeverity(s))
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}

	snapshots, nextCursor, err := h.incidents.List(c.Request.Context(), c.Param("orgId"), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": toSnapshotDTOs(snapshots), "nextCursor": nextCursor})
}

// IncidentDetails handles GET /v1/orgs/:orgId/incidents/:incidentId.
func (h *Handlers) IncidentDetails(c *gin.Context) {
	details, err := h.incidents.Details(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDetailsDTO(details))
}

// IncidentEvents handles GET /v1/orgs/:orgId/incidents/:incidentId/events.
func (h *Handlers) IncidentEvents(c *gin.Context) {
	events, err := h.incidents.Events(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toEventDTOs(events)})
}

// IncidentGraph handles GET /v1/orgs/:orgId/incidents/:incidentId/graph.
func (h *Handlers) IncidentGraph(c *gin.Context) {
	graph, err := h.graphs.Build(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

type changeStatusRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

// ChangeStatus handles POST /v1/orgs/:orgId/incidents/:incidentId/status.
func (h *Handlers) ChangeStatus(c *gin.Context) {
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.incidents.ChangeStatus(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"),
		incidents.ChangeStatusInput{
			NewStatus: models.IncidentStatus(req.Status),
			ActorID:   req.ActorID,
			Reason:    req.Reason,
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type changeSeverityRequest struct {
	Severity string `json:"severity"`
	ActorID  string `json:"actorId"`
	Reason   string `json:"reason"`
}

// ChangeSeverity handles POST /v1/orgs/:orgId/incidents/:incidentId/severity.
func (h *Handlers) ChangeSeverity(c *gin.Context) {
	var req changeSeverityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.incidents.ChangeSeverity(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"),
		incidents.ChangeSeverityInput{
			NewSeverity: models.IncidentSeverity(req.Severity),
			ActorID:     req.ActorID,
			Reason:      req.Reason,
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type attachSignalRequest struct {
	SignalType     string         `json:"signalType"`
	ServiceName    string         `json:"serviceName"`
	Environment    string         `json:"environment"`
	Source         string         `json:"source"`
	Summary        string         `json:"summary"`
	CorrelationKey string         `json:"correlationKey"`
	TraceID        string         `json:"traceId"`
	Data           map[string]any `json:"data"`
}

// AttachSignal handles POST /v1/orgs/:orgId/incidents/:incidentId/signals.
func (h *Handlers) AttachSignal(c *gin.Context) {
	var req attachSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.incidents.AttachSignal(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"),
		incidents.AttachSignalInput{
			SignalType:     models.SignalType(req.SignalType),
			ServiceName:    req.ServiceName,
			Environment:    req.Environment,
			Source:         req.Source,
			Summary:        req.Summary,
			CorrelationKey: req.CorrelationKey,
			TraceID:        req.TraceID,
			Data:           req.Data,
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addActionRequest struct {
	ActorType  string `json:"actorType"`
	ActorRef   string `json:"actorRef"`
	ActionKind string `json:"actionKind"`
	Label      string `json:"label"`
	Details    string `json:"details"`
}

// AddAction handles POST /v1/orgs/:orgId/incidents/:incidentId/actions.
func (h *Handlers) AddAction(c *gin.Context) {
	var req addActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.incidents.AddAction(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"),
		incidents.AddActionInput{
			ActorType:  models.ActorType(req.ActorType),
			ActorRef:   req.ActorRef,
			ActionKind: models.ActionKind(req.ActionKind),
			Label:      req.Label,
			Details:    req.Details,
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addNoteRequest struct {
	ActorID string `json:"actorId"`
	Note    string `json:"note"`
}

// AddNote handles POST /v1/orgs/:orgId/incidents/:incidentId/notes.
func (h *Handlers) AddNote(c *gin.Context) {
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.incidents.AddNote(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"),
		incidents.AddNoteInput{ActorID: req.ActorID, Note: req.Note})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resolveRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

// ResolveIncident handles POST /v1/orgs/:orgId/incidents/:incidentId/resolve.
func (h *Handlers) ResolveIncident(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.incidents.Resolve(c.Request.Context(), c.Param("orgId"), c.Param("incidentId"),
		incidents.ResolveInput{ActorID: req.ActorID, Reason: req.Reason})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ingestEventRequest struct {
	ID             string           `json:"id"`
	ProjectID      string           `json:"projectId"`
	ServiceName    string           `json:"serviceName"`
	Environment    string           `json:"environment"`
	EventType      string           `json:"eventType"`
	Source         string           `json:"source"`
	Timestamp      time.Time        `json:"timestamp"`
	CorrelationKey string           `json:"correlationKey"`
	TraceID        string           `json:"traceId"`
	Context        map[string]any   `json:"context"`
	Metrics        *ingestMetrics   `json:"metrics"`
	Logs           []models.LogLine `json:"logs"`
}

type ingestMetrics struct {
	ErrorRate    *float64 `json:"errorRate"`
	LatencyMs    *float64 `json:"latencyMs"`
	Throughput   *float64 `json:"throughput"`
	Availability *float64 `json:"availability"`
}

// IngestEvent handles POST /v1/orgs/:orgId/events. One normalized telemetry
// event flows through feature extraction, flow aggregation, and the SLA risk
// evaluator in one call.
func (h *Handlers) IngestEvent(c *gin.Context) {
	var req ingestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.ServiceName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "serviceName is required", Code: "INVALID_REQUEST"})
		return
	}

	event := models.NormalizedEvent{
		ID:             req.ID,
		OrgID:          c.Param("orgId"),
		ProjectID:      req.ProjectID,
		ServiceName:    req.ServiceName,
		Environment:    req.Environment,
		EventType:      req.EventType,
		Source:         req.Source,
		Timestamp:      req.Timestamp,
		CorrelationKey: req.CorrelationKey,
		TraceID:        req.TraceID,
		Logs:           req.Logs,
		Metadata:       req.Context,
	}
	if req.Metrics != nil {
		event.Metrics = &models.EventMetrics{
			ErrorRate:    req.Metrics.ErrorRate,
			LatencyMs:    req.Metrics.LatencyMs,
			Throughput:   req.Metrics.Throughput,
			Availability: req.Metrics.Availability,
		}
	}

	// Enrich once so the flow aggregator and the risk evaluator see the same
	// data path key.
	event = normalize.EnrichWithDataPath(event)

	flow, created, err := h.flows.Record(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}

	entry, err := h.watchlist.Record(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{}
	if flow != nil {
		resp["dataPathKey"] = flow.DataPathKey
		resp["flowCreated"] = created
		resp["flowEventCount"] = flow.EventCount
	}
	if entry != nil {
		resp["watchStatus"] = entry.Status
		resp["riskScore"] = entry.RiskScore
	}
	c.JSON(http.StatusOK, resp)
}

// IncidentsByCorrelationKey handles GET /v1/orgs/:orgId/correlations/:key/incidents.
func (h *Handlers) IncidentsByCorrelationKey(c *gin.Context) {
	snapshots, err := h.incidents.ByCorrelationKey(c.Request.Context(), c.Param("orgId"), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": toSnapshotDTOs(snapshots)})
}

// RecentIncidentsForService handles GET /v1/orgs/:orgId/services/:serviceName/incidents.
func (h *Handlers) RecentIncidentsForService(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	snapshots, err := h.incidents.RecentForService(c.Request.Context(), c.Param("orgId"), c.Param("serviceName"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": toSnapshotDTOs(snapshots)})
}

// ListFlows handles GET /v1/orgs/:orgId/flows.
func (h *Handlers) ListFlows(c *gin.Context) {
	filters := store.FlowFilters{
		ProjectID:   c.Query("projectId"),
		ServiceName: c.Query("serviceName"),
		Environment: c.Query("environment"),
		DataPathKey: c.Query("dataPathKey"),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Limit = n
		}
	}

	result, err := h.flows.List(c.Request.Context(), c.Param("orgId"), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flows": toFlowDTOs(result)})
}

// ListWatchlist handles GET /v1/orgs/:orgId/watchlist.
func (h *Handlers) ListWatchlist(c *gin.Context) {
	filters := store.WatchFilters{
		ProjectID:   c.Query("projectId"),
		ServiceName: c.Query("serviceName"),
		Environment: c.Query("environment"),
	}
	for _, s := range splitCSV(c.Query("status")) {
		filters.Status = append(filters.Status, models.SLAWatchStatus(s))
	}

	entries, err := h.watchlist.List(c.Request.Context(), c.Param("orgId"), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": toWatchDTOs(entries)})
}

// ClearWatchEntry handles POST /v1/orgs/:orgId/watchlist/:entryId/clear.
func (h *Handlers) ClearWatchEntry(c *gin.Context) {
	entry, err := h.watchlist.Clear(c.Request.Context(), c.Param("orgId"), c.Param("entryId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWatchDTO(entry))
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
