package flows

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/store"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	st, err := store.Open(":memory:", time.Second, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewAggregator(st, nil)
}

func orderEvent(orderID string, ts time.Time) models.NormalizedEvent {
	return models.NormalizedEvent{
		ID: "evt_1", OrgID: "org_1", ProjectID: "proj_1",
		ServiceName: "checkout", Environment: "production",
		EventType: "http.request", Source: "otel",
		Timestamp: ts,
		Metadata: map[string]any{
			"route":   "/orders/" + orderID,
			"orderId": orderID,
		},
	}
}

func TestRecordDerivesKeyAndCounts(t *testing.T) {
	agg := newTestAggregator(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	flow, created, err := agg.Record(ctx, orderEvent("ord_42", ts))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !created {
		t.Fatalf("first event must create the flow")
	}
	if !strings.HasPrefix(flow.DataPathKey, "dp_") {
		t.Fatalf("unexpected derived key %q", flow.DataPathKey)
	}
	if flow.EventCount != 1 {
		t.Fatalf("expected count 1, got %d", flow.EventCount)
	}

	again, created, err := agg.Record(ctx, orderEvent("ord_42", ts.Add(time.Minute)))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if created {
		t.Fatalf("same key must not create a second flow")
	}
	if again.ID != flow.ID || again.EventCount != 2 {
		t.Fatalf("expected increment on existing flow: %+v", again)
	}
	if !again.LastSeenAt.After(flow.LastSeenAt) {
		t.Fatalf("last_seen_at must advance")
	}
}

func TestRecordSkipsEventsWithoutFeatures(t *testing.T) {
	agg := newTestAggregator(t)
	ctx := context.Background()

	event := models.NormalizedEvent{
		ID: "evt_1", OrgID: "org_1", ProjectID: "proj_1",
		ServiceName: "checkout", Environment: "production",
		EventType: "heartbeat", Source: "otel",
		Timestamp: time.Now().UTC(),
	}
	flow, created, err := agg.Record(ctx, event)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if flow != nil || created {
		t.Fatalf("featureless events must be skipped: %+v", flow)
	}

	listed, err := agg.List(ctx, "org_1", store.FlowFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("no flow rows expected, got %d", len(listed))
	}
}

func TestRecordHonorsPrecomputedKey(t *testing.T) {
	agg := newTestAggregator(t)
	ctx := context.Background()

	event := models.NormalizedEvent{
		ID: "evt_1", OrgID: "org_1", ProjectID: "proj_1",
		ServiceName: "checkout", Environment: "production",
		EventType: "http.request", Source: "otel",
		Timestamp:   time.Now().UTC(),
		DataPathKey: "dp_00112233aabbccdd",
	}
	flow, created, err := agg.Record(ctx, event)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !created || flow.DataPathKey != "dp_00112233aabbccdd" {
		t.Fatalf("precomputed key must be used as-is: %+v", flow)
	}
}

func TestForIncident(t *testing.T) {
	agg := newTestAggregator(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	flow, _, err := agg.Record(ctx, orderEvent("ord_42", ts))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := agg.Record(ctx, orderEvent("ord_99", ts)); err != nil {
		t.Fatalf("record: %v", err)
	}

	snap := models.IncidentSnapshot{DataPathKeys: []string{flow.DataPathKey}}
	matched, err := agg.ForIncident(ctx, "org_1", snap)
	if err != nil {
		t.Fatalf("for incident: %v", err)
	}
	if len(matched) != 1 || matched[0].DataPathKey != flow.DataPathKey {
		t.Fatalf("expected the one linked flow, got %+v", matched)
	}

	none, err := agg.ForIncident(ctx, "org_1", models.IncidentSnapshot{})
	if err != nil {
		t.Fatalf("for incident with no keys: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("no keys means no flows, got %d", len(none))
	}
}
