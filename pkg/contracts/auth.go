// Package contracts defines the boundary interfaces shared across the
// registry control plane: authenticated identity, the auth-provider chain,
// and the taxonomy of errors every component returns.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller. Produced by an AuthProvider
// (API key or token-verifier backed), consumed by the policy engine (E) and
// the orchestrator (H). No downstream component knows whether the caller
// came from a bearer JWT or a static API key.
type Identity struct {
	// Subject is the unique identifier (JWT `sub`, or an API key hash).
	Subject string `json:"subject"`

	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// Provider identifies which auth provider authenticated this identity.
	// Values: "apikey", "service_account", "oidc".
	Provider string `json:"provider"`

	// Namespace is the tenant scope extracted from token claims or mapping.
	// Empty means "use the configured default namespace".
	Namespace string `json:"namespace,omitempty"`

	// Groups contains IdP group memberships; these are matched against Scope
	// names by the policy engine (E) to compute the caller's permissions.
	Groups []string `json:"groups,omitempty"`

	// Claims holds raw string claims from the token for diagnostics.
	Claims map[string]string `json:"claims,omitempty"`

	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in priority order until one returns an
// Identity. The API key provider and the JWKS token-verifier provider are
// both registered on the same chain so either scheme authenticates the
// same endpoints.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
