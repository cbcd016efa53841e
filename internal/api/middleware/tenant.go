package middleware

import (
	"context"
	"net/http"
	"strings"

	pkgmw "github.com/agentoven/registry-gateway/control-plane/pkg/middleware"
)

type contextKey string

const (
	// TenantIDKey is the context key for the tenant (namespace) ID.
	TenantIDKey contextKey = "tenant_id"
)

// NamespaceExtractor extracts the namespace from the request.
// It checks the X-Namespace header, then the namespace query parameter,
// and falls back to "default".
func NamespaceExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		namespace := ""

		if h := r.Header.Get("X-Namespace"); h != "" {
			namespace = strings.TrimSpace(h)
		}

		if namespace == "" {
			if q := r.URL.Query().Get("namespace"); q != "" {
				namespace = strings.TrimSpace(q)
			}
		}

		if namespace == "" {
			namespace = "default"
		}

		// Use pkg/middleware for the namespace context key (shared with the
		// auth middleware, which may override it once an identity's own
		// namespace claim is known).
		ctx := pkgmw.SetNamespace(r.Context(), namespace)
		ctx = context.WithValue(ctx, TenantIDKey, namespace)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetNamespace retrieves the namespace from the request context.
// Delegates to pkg/middleware.GetNamespace for cross-module compatibility.
func GetNamespace(ctx context.Context) string {
	return pkgmw.GetNamespace(ctx)
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return "default"
}
