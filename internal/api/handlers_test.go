package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pathwatch/pathwatch-engine/internal/cache"
	"github.com/pathwatch/pathwatch-engine/internal/flows"
	"github.com/pathwatch/pathwatch-engine/internal/incidents"
	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/risk"
	"github.com/pathwatch/pathwatch-engine/internal/servicegraph"
	"github.com/pathwatch/pathwatch-engine/internal/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(":memory:", time.Second, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	builder := servicegraph.NewBuilder(st, cache.NewMemoryProvider(), time.Minute, nil)
	incSvc := incidents.NewService(st, nil, builder)
	flowAgg := flows.NewAggregator(st, nil)
	watchlist := risk.NewWatchlist(st, models.DefaultSLAThresholds(), nil)
	handlers := NewHandlers(incSvc, flowAgg, builder, watchlist, nil)

	router := gin.New()
	v1 := router.Group("/v1/orgs/:orgId")
	v1.POST("/incidents", handlers.CreateIncident)
	v1.GET("/incidents", handlers.ListIncidents)
	v1.GET("/incidents/:incidentId", handlers.IncidentDetails)
	v1.GET("/incidents/:incidentId/events", handlers.IncidentEvents)
	v1.GET("/incidents/:incidentId/graph", handlers.IncidentGraph)
	v1.POST("/incidents/:incidentId/status", handlers.ChangeStatus)
	v1.POST("/incidents/:incidentId/signals", handlers.AttachSignal)
	v1.POST("/incidents/:incidentId/notes", handlers.AddNote)
	v1.POST("/incidents/:incidentId/resolve", handlers.ResolveIncident)
	v1.GET("/correlations/:key/incidents", handlers.IncidentsByCorrelationKey)
	v1.GET("/services/:serviceName/incidents", handlers.RecentIncidentsForService)
	v1.POST("/events", handlers.IngestEvent)
	v1.GET("/flows", handlers.ListFlows)
	v1.GET("/watchlist", handlers.ListWatchlist)
	v1.POST("/watchlist/:entryId/clear", handlers.ClearWatchEntry)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func createIncidentViaAPI(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents", gin.H{
		"projectId":   "proj_1",
		"title":       "Checkout error spike",
		"serviceName": "checkout",
		"severity":    "SEV2",
		"environment": "production",
		"detectedBy":  "alertmanager",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create incident: status %d body %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["incidentId"].(string)
	if id == "" {
		t.Fatalf("missing incidentId in response: %s", w.Body.String())
	}
	return id
}

func TestCreateIncidentEndpoint(t *testing.T) {
	router := newTestRouter(t)
	id := createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("details: status %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "OPEN" || body["severity"] != "SEV2" {
		t.Fatalf("unexpected snapshot: %s", w.Body.String())
	}
	if signals, ok := body["signals"].([]any); !ok || len(signals) != 0 {
		t.Fatalf("expected empty signals list: %s", w.Body.String())
	}
}

func TestCreateIncidentValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents", gin.H{
		"projectId":   "proj_1",
		"title":       "No such severity",
		"serviceName": "checkout",
		"severity":    "SEV9",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", w.Body.String())
	}
}

func TestIncidentNotFound(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents/inc_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", w.Body.String())
	}
}

func TestStatusChangeAndEventLog(t *testing.T) {
	router := newTestRouter(t)
	id := createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents/"+id+"/status", gin.H{
		"status":  "INVESTIGATING",
		"actorId": "user_1",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status change: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents/"+id+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d %s", w.Code, w.Body.String())
	}
	events, ok := decodeBody(t, w)["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("expected 2 events, got %s", w.Body.String())
	}
	second := events[1].(map[string]any)
	if second["type"] != "INCIDENT_STATUS_CHANGED" {
		t.Fatalf("unexpected second event: %v", second)
	}
}

func TestResolveEndpoint(t *testing.T) {
	router := newTestRouter(t)
	id := createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents/"+id+"/resolve", gin.H{
		"actorId": "user_1",
		"reason":  "rolled back",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents/"+id, nil)
	if body := decodeBody(t, w); body["status"] != "RESOLVED" {
		t.Fatalf("expected RESOLVED, got %v", body["status"])
	}
}

func TestIngestEventEndToEnd(t *testing.T) {
	router := newTestRouter(t)

	payload := gin.H{
		"id":          "evt_1",
		"projectId":   "proj_1",
		"serviceName": "checkout",
		"environment": "production",
		"eventType":   "http.request",
		"source":      "otel",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"context": gin.H{
			"route":   "/orders/12345",
			"orderId": "ord_42",
		},
		"metrics": gin.H{"errorRate": 0.08},
	}
	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/events", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["flowCreated"] != true {
		t.Fatalf("expected flow creation: %s", w.Body.String())
	}
	if body["watchStatus"] != "BREACHED" {
		t.Fatalf("expected BREACHED watch entry: %s", w.Body.String())
	}
	dataPathKey, _ := body["dataPathKey"].(string)
	if dataPathKey == "" {
		t.Fatalf("expected a derived data path key: %s", w.Body.String())
	}

	// The flow and the watch entry are both queryable afterwards.
	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/flows", nil)
	if flowsList, ok := decodeBody(t, w)["flows"].([]any); !ok || len(flowsList) != 1 {
		t.Fatalf("expected one flow, got %s", w.Body.String())
	}
	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/watchlist", nil)
	entries, ok := decodeBody(t, w)["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one watch entry, got %s", w.Body.String())
	}
	entry := entries[0].(map[string]any)
	// The watch entry carries the same key the flow was keyed on, so a second
	// business flow does not collide with this one in the uniqueness tuple.
	if entry["dataPathKey"] != dataPathKey {
		t.Fatalf("watch entry key %v does not match flow key %s", entry["dataPathKey"], dataPathKey)
	}

	entryID := entry["id"].(string)
	w = doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/watchlist/"+entryID+"/clear", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["status"] != "CLEARED" {
		t.Fatalf("expected CLEARED, got %s", w.Body.String())
	}
}

func TestIngestEventRequiresServiceName(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/events", gin.H{
		"projectId": "proj_1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["code"] != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %s", w.Body.String())
	}
}

func TestListIncidentsFilters(t *testing.T) {
	router := newTestRouter(t)
	createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents?status=OPEN", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	open, ok := decodeBody(t, w)["incidents"].([]any)
	if !ok || len(open) != 1 {
		t.Fatalf("expected one open incident, got %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents?status=RESOLVED", nil)
	if resolved, ok := decodeBody(t, w)["incidents"].([]any); !ok || len(resolved) != 0 {
		t.Fatalf("expected no resolved incidents, got %s", w.Body.String())
	}

	// Another org sees nothing.
	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_2/incidents", nil)
	if other, ok := decodeBody(t, w)["incidents"].([]any); !ok || len(other) != 0 {
		t.Fatalf("org isolation broken: %s", w.Body.String())
	}
}

func TestAddNoteEndpoint(t *testing.T) {
	router := newTestRouter(t)
	id := createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents/"+id+"/notes", gin.H{
		"actorId": "user_1",
		"note":    "paging the db on-call",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("add note: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents/"+id, nil)
	actions, ok := decodeBody(t, w)["actions"].([]any)
	if !ok || len(actions) != 1 {
		t.Fatalf("expected one derived action, got %s", w.Body.String())
	}
	action := actions[0].(map[string]any)
	if action["actionKind"] != "NOTE" || action["details"] != "paging the db on-call" {
		t.Fatalf("unexpected action: %v", action)
	}

	w = doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents/"+id+"/notes", gin.H{
		"actorId": "user_1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty note must be rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestIncidentLookupEndpoints(t *testing.T) {
	router := newTestRouter(t)
	id := createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/orgs/org_1/incidents/"+id+"/signals", gin.H{
		"signalType":     "ALERT",
		"serviceName":    "checkout",
		"environment":    "production",
		"source":         "pagerduty",
		"summary":        "error rate alert",
		"correlationKey": "corr_1",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("attach signal: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/correlations/corr_1/incidents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("by correlation key: %d %s", w.Code, w.Body.String())
	}
	matched, ok := decodeBody(t, w)["incidents"].([]any)
	if !ok || len(matched) != 1 {
		t.Fatalf("expected one correlated incident, got %s", w.Body.String())
	}
	if matched[0].(map[string]any)["id"] != id {
		t.Fatalf("wrong incident matched: %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/correlations/corr_other/incidents", nil)
	if none, ok := decodeBody(t, w)["incidents"].([]any); !ok || len(none) != 0 {
		t.Fatalf("unknown key must match nothing: %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/services/checkout/incidents?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recent for service: %d %s", w.Code, w.Body.String())
	}
	recent, ok := decodeBody(t, w)["incidents"].([]any)
	if !ok || len(recent) != 1 {
		t.Fatalf("expected one recent incident, got %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/services/search/incidents", nil)
	if none, ok := decodeBody(t, w)["incidents"].([]any); !ok || len(none) != 0 {
		t.Fatalf("other services must have no incidents: %s", w.Body.String())
	}
}

func TestIncidentGraphEndpoint(t *testing.T) {
	router := newTestRouter(t)
	id := createIncidentViaAPI(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/orgs/org_1/incidents/"+id+"/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("graph: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if _, ok := body["metadata"]; !ok {
		t.Fatalf("graph response missing metadata: %s", w.Body.String())
	}
}
