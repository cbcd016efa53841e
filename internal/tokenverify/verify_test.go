package tokenverify

import (
	"testing"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

func newTestVerifier(now time.Time) *Verifier {
	v := &Verifier{
		cfg: Config{
			Issuer:          "https://issuer.example.com",
			Audiences:       []string{"registry-gateway"},
			ClockSkew:       30 * time.Second,
			GroupsClaimPath: "$.groups",
		},
		clock: func() time.Time { return now },
	}
	return v
}

func TestCheckIssuer(t *testing.T) {
	v := newTestVerifier(time.Now())

	if err := v.checkIssuer(map[string]any{"iss": "https://issuer.example.com"}); err != nil {
		t.Errorf("expected matching issuer to pass, got %v", err)
	}

	err := v.checkIssuer(map[string]any{"iss": "https://other.example.com"})
	inv, ok := err.(*contracts.TokenInvalid)
	if !ok || inv.Reason != "issuer" {
		t.Errorf("expected TokenInvalid{issuer}, got %v", err)
	}
}

func TestCheckAudience(t *testing.T) {
	v := newTestVerifier(time.Now())

	if err := v.checkAudience(map[string]any{"aud": "registry-gateway"}); err != nil {
		t.Errorf("expected single matching audience to pass, got %v", err)
	}
	if err := v.checkAudience(map[string]any{"aud": []any{"other", "registry-gateway"}}); err != nil {
		t.Errorf("expected audience list containing a match to pass, got %v", err)
	}

	err := v.checkAudience(map[string]any{"aud": "unrelated-client"})
	inv, ok := err.(*contracts.TokenInvalid)
	if !ok || inv.Reason != "audience" {
		t.Errorf("expected TokenInvalid{audience}, got %v", err)
	}
}

func TestCheckAudience_NoConfiguredAudiences(t *testing.T) {
	v := newTestVerifier(time.Now())
	v.cfg.Audiences = nil

	if err := v.checkAudience(map[string]any{"aud": "anything"}); err != nil {
		t.Errorf("expected audience check to be skipped when none configured, got %v", err)
	}
}

func TestCheckTimeClaims_Expired(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(now)

	claims := map[string]any{"exp": float64(now.Add(-time.Hour).Unix())}
	err := v.checkTimeClaims(claims)
	inv, ok := err.(*contracts.TokenInvalid)
	if !ok || inv.Reason != "expired" {
		t.Errorf("expected TokenInvalid{expired}, got %v", err)
	}
}

func TestCheckTimeClaims_WithinClockSkew(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(now)

	claims := map[string]any{"exp": float64(now.Add(-10 * time.Second).Unix())}
	if err := v.checkTimeClaims(claims); err != nil {
		t.Errorf("expected expiry within clock skew to pass, got %v", err)
	}
}

func TestCheckTimeClaims_NotYetValid(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(now)

	claims := map[string]any{"nbf": float64(now.Add(time.Hour).Unix())}
	err := v.checkTimeClaims(claims)
	inv, ok := err.(*contracts.TokenInvalid)
	if !ok || inv.Reason != "expired" {
		t.Errorf("expected TokenInvalid{expired} for not-yet-valid token, got %v", err)
	}
}

func TestIdentityFromClaims_GroupsClaimPath(t *testing.T) {
	v := newTestVerifier(time.Now())

	claims := map[string]any{
		"sub":                "user-123",
		"preferred_username": "alice",
		"groups":             []any{"mcp-registry-admin", "mcp-registry-reader"},
	}

	identity := v.identityFromClaims(claims)
	if identity.Subject != "user-123" {
		t.Errorf("Subject = %q, want %q", identity.Subject, "user-123")
	}
	if identity.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want %q", identity.DisplayName, "alice")
	}
	if len(identity.Groups) != 2 || identity.Groups[0] != "mcp-registry-admin" {
		t.Errorf("Groups = %v, want [mcp-registry-admin mcp-registry-reader]", identity.Groups)
	}
}

func TestIdentityFromClaims_CustomGroupsClaimPath(t *testing.T) {
	v := newTestVerifier(time.Now())
	v.cfg.GroupsClaimPath = "$.realm_access.roles"

	claims := map[string]any{
		"sub": "user-456",
		"realm_access": map[string]any{
			"roles": []any{"mcp-registry-admin"},
		},
	}

	identity := v.identityFromClaims(claims)
	if len(identity.Groups) != 1 || identity.Groups[0] != "mcp-registry-admin" {
		t.Errorf("Groups = %v, want [mcp-registry-admin]", identity.Groups)
	}
}

func TestEnabled(t *testing.T) {
	v := &Verifier{}
	if v.Enabled() {
		t.Error("expected Verifier with no issuer/JWKS URL to be disabled")
	}

	v.cfg.Issuer = "https://issuer.example.com"
	v.cfg.JWKSURL = "https://issuer.example.com/.well-known/jwks.json"
	if !v.Enabled() {
		t.Error("expected Verifier with issuer and JWKS URL configured to be enabled")
	}
}
