package normalize

import (
	"testing"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

func TestExtractFeaturesFlatFields(t *testing.T) {
	features := ExtractFeatures(map[string]any{
		"route":      "/orders/123",
		"accountId":  "acct_1",
		"customerId": "cust_1",
		"orderId":    "ord_1",
		"userId":     "u1",
		"tenantId":   "t1",
	})

	want := models.DataPathFeatures{
		Route:      "/orders/123",
		AccountID:  "acct_1",
		CustomerID: "cust_1",
		OrderID:    "ord_1",
		UserID:     "u1",
		TenantID:   "t1",
	}
	if features != want {
		t.Fatalf("got %+v, want %+v", features, want)
	}
}

func TestExtractFeaturesRoutePriority(t *testing.T) {
	features := ExtractFeatures(map[string]any{
		"path":  "/from-path",
		"topic": "orders.created",
	})
	if features.Route != "/from-path" {
		t.Fatalf("path should win over topic, got %q", features.Route)
	}

	features = ExtractFeatures(map[string]any{
		"httpRoute": "/orders/:id",
	})
	if features.Route != "/orders/:id" {
		t.Fatalf("httpRoute should supply route, got %q", features.Route)
	}

	features = ExtractFeatures(map[string]any{"queue": "billing-jobs"})
	if features.Route != "billing-jobs" {
		t.Fatalf("queue should supply route, got %q", features.Route)
	}
}

func TestExtractFeaturesNestedOverrides(t *testing.T) {
	features := ExtractFeatures(map[string]any{
		"route":     "/flat",
		"accountId": "flat-account",
		"userId":    "flat-user",
		"request": map[string]any{
			"path":  "/nested-path",
			"route": "/nested-route",
		},
		"user": map[string]any{
			"id":        "nested-user",
			"accountId": "nested-account",
		},
	})

	if features.Route != "/nested-route" {
		t.Fatalf("request.route should override, got %q", features.Route)
	}
	if features.UserID != "nested-user" {
		t.Fatalf("user.id should override, got %q", features.UserID)
	}
	if features.AccountID != "nested-account" {
		t.Fatalf("user.accountId should override, got %q", features.AccountID)
	}
}

func TestExtractFeaturesCoercesNonStrings(t *testing.T) {
	features := ExtractFeatures(map[string]any{
		"orderId":   12345,
		"accountId": "",
		"userId":    nil,
	})
	if features.OrderID != "12345" {
		t.Fatalf("numeric orderId should coerce to string, got %q", features.OrderID)
	}
	if features.AccountID != "" || features.UserID != "" {
		t.Fatalf("empty and nil values must stay absent: %+v", features)
	}
}

func TestEnrichWithDataPath(t *testing.T) {
	event := models.NormalizedEvent{
		ServiceName: "checkout",
		Metadata: map[string]any{
			"route":   "/orders/99",
			"orderId": "ord_1",
		},
	}

	enriched := EnrichWithDataPath(event)
	if enriched.DataPathKey == "" {
		t.Fatalf("expected a derived data path key")
	}
	if enriched.DataPathFeatures.OrderID != "ord_1" {
		t.Fatalf("features not stamped: %+v", enriched.DataPathFeatures)
	}

	// Same metadata on the same service derives the same key.
	again := EnrichWithDataPath(event)
	if again.DataPathKey != enriched.DataPathKey {
		t.Fatalf("enrichment not deterministic")
	}
}

func TestEnrichWithDataPathNoFeatures(t *testing.T) {
	event := models.NormalizedEvent{
		ServiceName: "checkout",
		Metadata:    map[string]any{"irrelevant": "value"},
	}
	enriched := EnrichWithDataPath(event)
	if enriched.DataPathKey != "" {
		t.Fatalf("no features should mean no key, got %q", enriched.DataPathKey)
	}
}

func TestEnrichWithDataPathWeakFeaturesOnly(t *testing.T) {
	event := models.NormalizedEvent{
		ServiceName: "checkout",
		Metadata:    map[string]any{"userId": "u1"},
	}
	enriched := EnrichWithDataPath(event)
	if enriched.DataPathKey != "" {
		t.Fatalf("userId alone should not derive a key")
	}
	if enriched.DataPathFeatures.UserID != "u1" {
		t.Fatalf("features should still be stamped when extracted")
	}
}
