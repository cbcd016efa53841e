// Package tokenverify implements the token verifier (component F): JWKS-
// backed bearer token verification registered as another
// contracts.AuthProvider in the auth provider chain, so OIDC-issued tokens
// and API keys/service-account tokens are authenticated through the same
// chain-of-responsibility contract.
package tokenverify

import "time"

// Config carries the identity-provider parameters named in §4.F/§6.
type Config struct {
	Issuer          string
	JWKSURL         string
	Audiences       []string
	ClockSkew       time.Duration
	GroupsClaimPath string // JSONPath into the claim set; default "$.groups"
}

func (c Config) withDefaults() Config {
	if c.ClockSkew <= 0 {
		c.ClockSkew = 2 * time.Minute
	}
	if c.GroupsClaimPath == "" {
		c.GroupsClaimPath = "$.groups"
	}
	return c
}
