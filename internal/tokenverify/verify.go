package tokenverify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// Verifier is the component-F implementation, registered into the auth
// provider chain as another contracts.AuthProvider so bearer tokens are
// authenticated through the same chain as API keys and service-account
// tokens.
//
// Signature verification and JWKS fetch/cache are delegated to
// coreos/go-oidc's RemoteKeySet, wrapped in resilientKeySet for backoff
// retry and per-kid singleflight coalescing; this file owns the
// claim-validation rules (issuer, multi-audience, configurable clock skew,
// JSONPath-addressed groups claim) that go-oidc's own IDTokenVerifier
// doesn't expose flexibly enough for §4.F/§6's per-deployment
// GroupsClaimPath and ClockSkew knobs.
type Verifier struct {
	cfg    Config
	keySet *resilientKeySet
	clock  func() time.Time
}

func New(cfg Config) *Verifier {
	cfg = cfg.withDefaults()
	return &Verifier{
		cfg:    cfg,
		keySet: newResilientKeySet(cfg.JWKSURL),
		clock:  time.Now,
	}
}

func (v *Verifier) Name() string  { return "oidc" }
func (v *Verifier) Enabled() bool { return v.cfg.Issuer != "" && v.cfg.JWKSURL != "" }

// Authenticate reads the Authorization: Bearer <jwt> header. Returns
// (nil, nil) when no bearer token is present (let other providers try),
// and (nil, *contracts.TokenInvalid) on any verification failure.
func (v *Verifier) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, nil
	}
	raw := strings.TrimPrefix(auth, "Bearer ")
	return v.Verify(ctx, raw)
}

// Verify is the pure token → Identity path, exercised directly by tests and
// by Authenticate above.
func (v *Verifier) Verify(ctx context.Context, raw string) (*contracts.Identity, error) {
	payload, err := v.keySet.VerifySignature(ctx, raw)
	if err != nil {
		if isFetchError(err) {
			return nil, &contracts.TokenInvalid{Reason: "jwks-unavailable"}
		}
		return nil, &contracts.TokenInvalid{Reason: "signature"}
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, &contracts.TokenInvalid{Reason: "malformed"}
	}

	if err := v.checkTimeClaims(claims); err != nil {
		return nil, err
	}
	if err := v.checkIssuer(claims); err != nil {
		return nil, err
	}
	if err := v.checkAudience(claims); err != nil {
		return nil, err
	}

	return v.identityFromClaims(claims), nil
}

func (v *Verifier) checkIssuer(claims map[string]any) error {
	iss, _ := claims["iss"].(string)
	if iss != v.cfg.Issuer {
		return &contracts.TokenInvalid{Reason: "issuer"}
	}
	return nil
}

func (v *Verifier) checkAudience(claims map[string]any) error {
	if len(v.cfg.Audiences) == 0 {
		return nil
	}
	tokenAudiences := stringsOf(claims["aud"])
	for _, want := range v.cfg.Audiences {
		for _, got := range tokenAudiences {
			if want == got {
				return nil
			}
		}
	}
	return &contracts.TokenInvalid{Reason: "audience"}
}

func (v *Verifier) checkTimeClaims(claims map[string]any) error {
	now := v.clock()
	if exp, ok := numberClaim(claims["exp"]); ok {
		if now.After(time.Unix(exp, 0).Add(v.cfg.ClockSkew)) {
			return &contracts.TokenInvalid{Reason: "expired"}
		}
	}
	if nbf, ok := numberClaim(claims["nbf"]); ok {
		if now.Before(time.Unix(nbf, 0).Add(-v.cfg.ClockSkew)) {
			return &contracts.TokenInvalid{Reason: "expired"}
		}
	}
	return nil
}

func (v *Verifier) identityFromClaims(claims map[string]any) *contracts.Identity {
	sub, _ := claims["sub"].(string)
	username, _ := claims["preferred_username"].(string)

	var groups []string
	if result, err := jsonpath.Get(v.cfg.GroupsClaimPath, claims); err == nil {
		groups = stringsOf(result)
	}

	strClaims := make(map[string]string, len(claims))
	for k, val := range claims {
		if s, ok := val.(string); ok {
			strClaims[k] = s
		}
	}

	return &contracts.Identity{
		Subject:     sub,
		DisplayName: username,
		Provider:    "oidc",
		Groups:      groups,
		Claims:      strClaims,
	}
}

func numberClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func stringsOf(v any) []string {
	switch vv := v.(type) {
	case string:
		return []string{vv}
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
