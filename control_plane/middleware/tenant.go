package middleware

import (
	"context"
	"fmt"
	"net/http"
)

// TenantContextKey is a strict type for context keys to prevent collisions.
type TenantContextKey string

const (
	// TenantKey is the context key for the TenantID.
	TenantKey TenantContextKey = "tenant_id"
	// TenantHeader is the HTTP header expected to contain the TenantID.
	TenantHeader = "X-Tenant-ID"
)

// TenantMiddleware resolves the request's tenant scope. When auth already
// put a tenant in the context (from the token claims), the header is
// optional but must agree with it when present; a mismatch is treated as
// forged scoping. Without an authenticated tenant the header is required.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerTenant := r.Header.Get(TenantHeader)
		claimed, claimErr := GetTenantFromContext(r.Context())

		if headerTenant == "" {
			if claimErr != nil {
				http.Error(w, fmt.Sprintf("Missing required header: %s", TenantHeader), http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if claimErr == nil && claimed != headerTenant {
			http.Error(w, "Tenant header does not match authenticated tenant", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), TenantKey, headerTenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantFromContext safely retrieves the TenantID from the context.
func GetTenantFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(TenantKey)
	if val == nil {
		return "", fmt.Errorf("tenant_id not found in context")
	}

	tenantID, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("tenant_id in context is not a string")
	}

	return tenantID, nil
}
