package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// apiKeyGrant is what a configured API key resolves to: the namespace it's
// scoped into (never the caller's to choose) and the groups the policy
// engine (E) evaluates scopes against. Binding namespace at the key level —
// rather than trusting a header or query param — is what keeps an API key
// issued for one tenant from ever being replayed against another.
type apiKeyGrant struct {
	namespace string
	groups    []string
}

// APIKeyProvider validates keys from the Authorization: Bearer <key> or
// X-API-Key headers and maps each matched key to the namespace and groups
// it was provisioned with, so the scope/policy engine (E) can authorize
// API-key callers the same way it authorizes token-bearing ones.
//
// Config: REGISTRY_API_KEYS env var, a comma-separated list of
// "key:namespace:group1|group2" entries. A bare "key" entry (no colons)
// falls back to defaultNamespace/defaultGroup for compatibility with
// single-tenant deployments that don't need per-key scoping.
type APIKeyProvider struct {
	mu               sync.RWMutex
	grants           map[string]apiKeyGrant
	enabled          bool
	defaultNamespace string
	defaultGroup     string
}

// NewAPIKeyProvider creates an API key auth provider from environment config.
func NewAPIKeyProvider() *APIKeyProvider {
	p := &APIKeyProvider{
		grants:       make(map[string]apiKeyGrant),
		defaultGroup: "mcp-registry-apikey",
	}

	if group := os.Getenv("REGISTRY_API_KEY_GROUP"); group != "" {
		p.defaultGroup = group
	}
	p.defaultNamespace = os.Getenv("REGISTRY_API_KEY_NAMESPACE")

	keysEnv := os.Getenv("REGISTRY_API_KEYS")
	if keysEnv == "" {
		return p
	}

	for _, entry := range strings.Split(keysEnv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, grant := p.parseEntry(entry)
		if key == "" {
			continue
		}
		p.grants[key] = grant
		p.enabled = true
	}

	return p
}

func (p *APIKeyProvider) parseEntry(entry string) (string, apiKeyGrant) {
	parts := strings.SplitN(entry, ":", 3)
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return "", apiKeyGrant{}
	}
	grant := apiKeyGrant{namespace: p.defaultNamespace, groups: []string{p.defaultGroup}}
	if len(parts) >= 2 && parts[1] != "" {
		grant.namespace = parts[1]
	}
	if len(parts) == 3 && parts[2] != "" {
		grant.groups = strings.Split(parts[2], "|")
	}
	return key, grant
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Authenticate validates the API key and returns an Identity carrying the
// key's bound namespace and groups.
// Returns (nil, nil) if no API key is present (let next provider try).
// Returns (nil, error) if an API key is present but invalid.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := extractAPIKeyFromRequest(r)
	if apiKey == "" {
		return nil, nil
	}

	grant, ok := p.lookup(apiKey)
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}

	keyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))

	return &contracts.Identity{
		Subject:     "apikey:" + keyHash[:16],
		Provider:    "apikey",
		Namespace:   grant.namespace,
		Groups:      grant.groups,
		DisplayName: "API key caller",
		ExpiresAt:   time.Now().Add(24 * time.Hour), // API keys don't expire per-request
	}, nil
}

// lookup does a constant-time comparison against every configured key
// rather than a map hit on the raw key, so the number of valid keys
// configured doesn't leak through early-exit timing.
func (p *APIKeyProvider) lookup(candidate string) (apiKeyGrant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found apiKeyGrant
	matched := false
	for key, grant := range p.grants {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			found = grant
			matched = true
		}
	}
	return found, matched
}

// AddKey adds a new API key at runtime, scoped to namespace/group.
func (p *APIKeyProvider) AddKey(key, namespace string, groups []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if namespace == "" {
		namespace = p.defaultNamespace
	}
	if len(groups) == 0 {
		groups = []string{p.defaultGroup}
	}
	p.grants[key] = apiKeyGrant{namespace: namespace, groups: groups}
	p.enabled = true
}

// RemoveKey removes an API key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.grants, key)
	if len(p.grants) == 0 {
		p.enabled = false
	}
}

func extractAPIKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		// A three-segment JWT is left to the token verifier later in the chain.
		if token := strings.TrimPrefix(auth, "Bearer "); strings.Count(token, ".") != 2 {
			return token
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}
