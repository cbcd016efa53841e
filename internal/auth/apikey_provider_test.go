package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyProvider_AddKeyScopesNamespaceAndGroups(t *testing.T) {
	p := &APIKeyProvider{grants: make(map[string]apiKeyGrant), defaultGroup: "mcp-registry-apikey"}
	p.AddKey("secret-key", "tenant-a", []string{"tenant-a-admins"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "secret-key")

	id, err := p.Authenticate(req.Context(), req)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "tenant-a", id.Namespace)
	assert.Equal(t, []string{"tenant-a-admins"}, id.Groups)
}

func TestAPIKeyProvider_WrongKeyRejected(t *testing.T) {
	p := &APIKeyProvider{grants: make(map[string]apiKeyGrant), defaultGroup: "mcp-registry-apikey"}
	p.AddKey("secret-key", "tenant-a", nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "not-the-key")

	id, err := p.Authenticate(req.Context(), req)
	assert.Error(t, err)
	assert.Nil(t, id)
}

func TestAPIKeyProvider_NoKeyPresentIsNotAnError(t *testing.T) {
	p := &APIKeyProvider{grants: make(map[string]apiKeyGrant), defaultGroup: "mcp-registry-apikey"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	id, err := p.Authenticate(req.Context(), req)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestAPIKeyProvider_ParseEntryDefaultsWhenUnscoped(t *testing.T) {
	p := &APIKeyProvider{defaultNamespace: "default", defaultGroup: "mcp-registry-apikey"}
	key, grant := p.parseEntry("bare-key")
	assert.Equal(t, "bare-key", key)
	assert.Equal(t, "default", grant.namespace)
	assert.Equal(t, []string{"mcp-registry-apikey"}, grant.groups)

	key, grant = p.parseEntry("scoped-key:tenant-b:readers|writers")
	assert.Equal(t, "scoped-key", key)
	assert.Equal(t, "tenant-b", grant.namespace)
	assert.Equal(t, []string{"readers", "writers"}, grant.groups)
}
