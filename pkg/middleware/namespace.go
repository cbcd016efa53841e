// Package middleware provides shared context-propagation helpers used by
// both the HTTP surface (internal/api) and the orchestrator.
package middleware

import "context"

type contextKey string

const namespaceKey contextKey = "namespace"

// GetNamespace extracts the tenant namespace from the context.
// Returns "default" if none was set.
func GetNamespace(ctx context.Context) string {
	if v, ok := ctx.Value(namespaceKey).(string); ok && v != "" {
		return v
	}
	return "default"
}

// SetNamespace stores the tenant namespace in the context.
func SetNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey, namespace)
}
