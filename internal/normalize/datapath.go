package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

// dataPathKeyHexLen is the number of hex digest characters kept in a key.
// 16 chars = 64 bits; widen if collision risk matters at target scale.
const dataPathKeyHexLen = 16

var (
	uuidSegment    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	numericSegment = regexp.MustCompile(`^\d+$`)
	opaqueSegment  = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,}$`)
)

// ComputeDataPathKey derives the stable flow identifier for a service and its
// extracted features. The second return is false when the features carry too
// little identifying information to anchor a flow: userId/tenantId alone
// repeat within a session without marking the same business flow, so they
// never anchor a key by themselves.
func ComputeDataPathKey(serviceName string, features models.DataPathFeatures) (string, bool) {
	if features.Route == "" && features.AccountID == "" && features.CustomerID == "" && features.OrderID == "" {
		return "", false
	}

	// Fixed part order keeps the digest independent of input iteration order.
	parts := []string{serviceName}
	if features.Route != "" {
		parts = append(parts, "route:"+NormalizeRoute(features.Route))
	}
	if features.AccountID != "" {
		parts = append(parts, "account:"+features.AccountID)
	}
	if features.CustomerID != "" {
		parts = append(parts, "customer:"+features.CustomerID)
	}
	if features.OrderID != "" {
		parts = append(parts, "order:"+features.OrderID)
	}
	if features.UserID != "" {
		parts = append(parts, "user:"+features.UserID)
	}
	if features.TenantID != "" {
		parts = append(parts, "tenant:"+features.TenantID)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "dp_" + hex.EncodeToString(sum[:])[:dataPathKeyHexLen], true
}

// NormalizeRoute collapses resource-instance segments to ":id" so keys group
// by endpoint shape: /users/123 and /users/456 both become /users/:id.
// Correlation of specific instances happens through the explicit business-id
// features, not through IDs embedded in the route.
func NormalizeRoute(route string) string {
	segments := strings.Split(route, "/")
	for i, segment := range segments {
		lower := strings.ToLower(segment)
		if uuidSegment.MatchString(lower) || numericSegment.MatchString(segment) || opaqueSegment.MatchString(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
