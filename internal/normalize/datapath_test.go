package normalize

import (
	"strings"
	"testing"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

func TestComputeDataPathKeyDeterministic(t *testing.T) {
	features := models.DataPathFeatures{
		Route:     "/orders/123",
		AccountID: "acct_9",
		OrderID:   "ord_1",
	}

	first, ok := ComputeDataPathKey("checkout", features)
	if !ok {
		t.Fatalf("expected a key for identifying features")
	}
	second, ok := ComputeDataPathKey("checkout", features)
	if !ok || first != second {
		t.Fatalf("key not deterministic: %q vs %q", first, second)
	}

	if !strings.HasPrefix(first, "dp_") {
		t.Fatalf("expected dp_ prefix, got %q", first)
	}
	if len(first) != len("dp_")+16 {
		t.Fatalf("expected 16 hex chars after prefix, got %q", first)
	}
}

func TestComputeDataPathKeyDistinguishesInputs(t *testing.T) {
	base := models.DataPathFeatures{Route: "/orders", OrderID: "ord_1"}
	other := models.DataPathFeatures{Route: "/orders", OrderID: "ord_2"}

	k1, _ := ComputeDataPathKey("checkout", base)
	k2, _ := ComputeDataPathKey("checkout", other)
	if k1 == k2 {
		t.Fatalf("different order ids produced identical key %q", k1)
	}

	k3, _ := ComputeDataPathKey("payments", base)
	if k1 == k3 {
		t.Fatalf("different services produced identical key %q", k1)
	}
}

func TestComputeDataPathKeyRequiresAnchor(t *testing.T) {
	weak := models.DataPathFeatures{UserID: "u1", TenantID: "t1"}
	if _, ok := ComputeDataPathKey("checkout", weak); ok {
		t.Fatalf("userId/tenantId alone must not anchor a key")
	}

	if _, ok := ComputeDataPathKey("checkout", models.DataPathFeatures{}); ok {
		t.Fatalf("empty features must not anchor a key")
	}

	anchored := models.DataPathFeatures{CustomerID: "cust_1", UserID: "u1"}
	if _, ok := ComputeDataPathKey("checkout", anchored); !ok {
		t.Fatalf("customerId should anchor a key")
	}
}

func TestComputeDataPathKeyIncludesWeakFeatures(t *testing.T) {
	withUser := models.DataPathFeatures{OrderID: "ord_1", UserID: "u1"}
	withoutUser := models.DataPathFeatures{OrderID: "ord_1"}

	k1, _ := ComputeDataPathKey("checkout", withUser)
	k2, _ := ComputeDataPathKey("checkout", withoutUser)
	if k1 == k2 {
		t.Fatalf("userId should still contribute to the digest once anchored")
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/users/123", "/users/:id"},
		{"/users/456", "/users/:id"},
		{"/orders/12345/items", "/orders/:id/items"},
		{"/orders/abcdefgh", "/orders/:id"},
		{"/api/v2/users", "/api/v2/users"},
		{"/things/550e8400-e29b-41d4-a716-446655440000", "/things/:id"},
		{"/things/550E8400-E29B-41D4-A716-446655440000", "/things/:id"},
		{"/short/abc", "/short/abc"},
	}
	for _, tc := range cases {
		if got := NormalizeRoute(tc.in); got != tc.want {
			t.Fatalf("NormalizeRoute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRouteIdempotent(t *testing.T) {
	routes := []string{"/users/123", "/orders/abcdefgh/items/99", "/api/v2/users"}
	for _, route := range routes {
		once := NormalizeRoute(route)
		twice := NormalizeRoute(once)
		if once != twice {
			t.Fatalf("normalization not idempotent for %q: %q then %q", route, once, twice)
		}
	}
}
