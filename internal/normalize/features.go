// Package normalize reduces heterogeneous connector context to stable
// business-flow identifiers.
package normalize

import (
	"fmt"

	"github.com/pathwatch/pathwatch-engine/internal/models"
)

// routeSources is the priority order of flat context fields that can supply
// the route. First present wins.
var routeSources = []string{"route", "path", "httpRoute", "topic", "queue"}

// ExtractFeatures pulls data path features out of raw event context. Missing
// fields are simply absent in the result; nothing here errors. Values found in
// nested request/user objects override flat fields, as connectors place the
// authoritative identifiers there.
func ExtractFeatures(context map[string]any) models.DataPathFeatures {
	features := models.DataPathFeatures{}

	for _, source := range routeSources {
		if v, ok := stringValue(context[source]); ok {
			features.Route = v
			break
		}
	}

	if v, ok := stringValue(context["accountId"]); ok {
		features.AccountID = v
	}
	if v, ok := stringValue(context["customerId"]); ok {
		features.CustomerID = v
	}
	if v, ok := stringValue(context["orderId"]); ok {
		features.OrderID = v
	}
	if v, ok := stringValue(context["userId"]); ok {
		features.UserID = v
	}
	if v, ok := stringValue(context["tenantId"]); ok {
		features.TenantID = v
	}

	if req, ok := context["request"].(map[string]any); ok {
		if v, ok := stringValue(req["path"]); ok {
			features.Route = v
		}
		if v, ok := stringValue(req["route"]); ok {
			features.Route = v
		}
	}

	if user, ok := context["user"].(map[string]any); ok {
		if v, ok := stringValue(user["id"]); ok {
			features.UserID = v
		}
		if v, ok := stringValue(user["accountId"]); ok {
			features.AccountID = v
		}
	}

	return features
}

// EnrichWithDataPath derives data path information from an event's metadata
// and stamps it onto the event. Events without identifying features are
// returned unchanged.
func EnrichWithDataPath(event models.NormalizedEvent) models.NormalizedEvent {
	features := ExtractFeatures(event.Metadata)
	if features.Empty() {
		return event
	}

	event.DataPathFeatures = features
	if key, ok := ComputeDataPathKey(event.ServiceName, features); ok {
		event.DataPathKey = key
	}
	return event
}

// stringValue coerces a context value to string. Nil and empty values count
// as absent.
func stringValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	default:
		return fmt.Sprint(val), true
	}
}
