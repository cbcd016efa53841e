package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// ServiceAccountProvider validates HMAC-signed service account tokens.
// Used for agent-to-agent calls, CI/CD pipelines, and internal services
// that shouldn't need a full OIDC round-trip.
//
// Token format: base64(JSON payload) + "." + base64(HMAC-SHA256 signature)
// Payload: {"sub": "ci-pipeline", "namespace": "default", "groups": ["mcp-registry-admin"], "exp": 1234567890}
//
// Config: REGISTRY_SA_SECRET env var (HMAC secret key).
type ServiceAccountProvider struct {
	secret    []byte
	enabled   bool
	allowedNS map[string]bool // nil means "no restriction"
}

// serviceAccountPayload is the JWT-like payload for service account tokens.
type serviceAccountPayload struct {
	Subject   string   `json:"sub"`
	Namespace string   `json:"namespace,omitempty"`
	Groups    []string `json:"groups"`
	Exp       int64    `json:"exp"` // Unix timestamp
}

// NewServiceAccountProvider creates a service account provider from
// environment config. allowedNamespaces, when non-empty, restricts which
// namespace claims this provider will accept — a service account token
// minted for one tenant's CI pipeline shouldn't be replayable against a
// namespace the deployment never configured.
func NewServiceAccountProvider(allowedNamespaces ...string) *ServiceAccountProvider {
	secret := os.Getenv("REGISTRY_SA_SECRET")
	if secret == "" {
		return &ServiceAccountProvider{enabled: false}
	}
	p := &ServiceAccountProvider{
		secret:  []byte(secret),
		enabled: true,
	}
	if len(allowedNamespaces) > 0 {
		p.allowedNS = make(map[string]bool, len(allowedNamespaces))
		for _, ns := range allowedNamespaces {
			p.allowedNS[ns] = true
		}
	}
	return p
}

func (p *ServiceAccountProvider) Name() string  { return "service_account" }
func (p *ServiceAccountProvider) Enabled() bool { return p.enabled }

// Authenticate validates the service account token from X-Service-Token header.
// Returns (nil, nil) if no service token is present.
// Returns (nil, error) if the token is present but invalid.
func (p *ServiceAccountProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token := r.Header.Get("X-Service-Token")
	if token == "" {
		return nil, nil // not our concern
	}

	payload, err := p.validateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid service account token: %w", err)
	}

	return &contracts.Identity{
		Subject:     "svc:" + payload.Subject,
		Provider:    "service_account",
		Namespace:   payload.Namespace,
		Groups:      payload.Groups,
		DisplayName: payload.Subject,
		ExpiresAt:   time.Unix(payload.Exp, 0),
	}, nil
}

func (p *ServiceAccountProvider) validateToken(token string) (*serviceAccountPayload, error) {
	parts := splitToken(token)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed token: expected payload.signature")
	}

	payloadB64, sigB64 := parts[0], parts[1]

	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payloadB64))
	expectedSig := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}

	if !hmac.Equal(sig, expectedSig) {
		return nil, fmt.Errorf("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}

	var payload serviceAccountPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if payload.Exp > 0 && time.Now().Unix() > payload.Exp {
		return nil, fmt.Errorf("token expired")
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("missing subject")
	}
	if p.allowedNS != nil && payload.Namespace != "" && !p.allowedNS[payload.Namespace] {
		return nil, fmt.Errorf("namespace %q not configured on this deployment", payload.Namespace)
	}

	return &payload, nil
}

func splitToken(token string) []string {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return []string{token[:i], token[i+1:]}
		}
	}
	return []string{token}
}

// GenerateToken creates a signed service account token. A helper for CLI
// tools and tests; not called by the server itself.
func GenerateToken(secret []byte, subject, namespace string, groups []string, ttl time.Duration) (string, error) {
	payload := serviceAccountPayload{
		Subject:   subject,
		Namespace: namespace,
		Groups:    groups,
		Exp:       time.Now().Add(ttl).Unix(),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payloadB64))
	sig := mac.Sum(nil)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return payloadB64 + "." + sigB64, nil
}
