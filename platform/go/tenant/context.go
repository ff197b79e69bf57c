// Package tenant carries the current-tenant marker through a request.
//
// The marker is attached to the context by middleware once the tenant has
// been resolved from the request, and is read by the persistence layer when
// it opens a unit of work. A context without a marker means "unfiltered"
// and is reserved for privileged operations (seeding, schema resolution,
// login).
package tenant

import (
	"context"
	"strings"
)

type ctxKey string

const markerKey ctxKey = "NIVELLO_TENANT_ID"

// WithID returns a derived context carrying the tenant identifier.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, markerKey, tenantID)
}

// FromContext extracts the tenant identifier and a boolean indicating
// presence. Blank identifiers count as absent.
func FromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(markerKey)
	if v == nil {
		return "", false
	}

	tenantID, ok := v.(string)
	if !ok || strings.TrimSpace(tenantID) == "" {
		return "", false
	}
	return tenantID, true
}
