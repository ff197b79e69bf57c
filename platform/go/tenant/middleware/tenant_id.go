package middleware

import (
	"net/http"
	"strings"

	"github.com/nivello-hq/nivello-core/platform/go/tenant"
)

// HeaderName is the request header carrying the caller's tenant identifier.
const HeaderName = "X-Tenant-ID"

// RequireTenant attaches the tenant marker from the request header to the
// context and rejects requests without one. Mount it on routes that operate
// on tenant-scoped data.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(HeaderName))
			if tenantID == "" {
				http.Error(w, "tenant required", http.StatusBadRequest)
				return
			}

			ctx := tenant.WithID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalTenant attaches the tenant marker when the header is present and
// passes the request through untouched otherwise. Used by routes that fall
// back to global behavior without a tenant (schema resolution).
func OptionalTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(HeaderName))
			if tenantID == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := tenant.WithID(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
