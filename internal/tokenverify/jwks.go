package tokenverify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"
)

// newKeySet wraps coreos/go-oidc's RemoteKeySet, which fetches and caches
// the JWKS document by kid and refetches on a cache miss.
func newKeySet(jwksURL string) oidc.KeySet {
	return oidc.NewRemoteKeySet(context.Background(), jwksURL)
}

// resilientKeySet adds the two things a bare RemoteKeySet doesn't give us:
// a cenkalti/backoff retry around the JWKS HTTP fetch a cache miss
// triggers, and a singleflight.Group keyed by kid so concurrent requests
// for the same unseen kid produce one fetch instead of N. This is the
// only network call on the token-verification hot path (§4.F).
type resilientKeySet struct {
	inner oidc.KeySet
	sf    singleflight.Group
}

func newResilientKeySet(jwksURL string) *resilientKeySet {
	return &resilientKeySet{inner: newKeySet(jwksURL)}
}

func (r *resilientKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	kid := kidOf(jwt)
	v, err, shared := r.sf.Do(kid, func() (any, error) {
		var payload []byte
		op := func() error {
			p, err := r.inner.VerifySignature(ctx, jwt)
			if err != nil {
				if !isFetchError(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			payload = p
			return nil
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		if err := backoff.Retry(op, bo); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if shared {
		// Callers sharing a kid may hold different tokens: the shared call
		// only warmed the key cache, so each caller checks its own token.
		return r.inner.VerifySignature(ctx, jwt)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// kidOf reads the "kid" field out of a JWT's header segment without
// verifying anything — used only to pick a singleflight key, never trusted
// for authorization.
func kidOf(jwt string) string {
	parts := strings.SplitN(jwt, ".", 2)
	if len(parts) < 1 || parts[0] == "" {
		return ""
	}
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ""
	}
	var h struct {
		Kid string `json:"kid"`
	}
	if json.Unmarshal(header, &h) != nil {
		return ""
	}
	return h.Kid
}

// isFetchError reports whether err came from the JWKS HTTP fetch itself
// (network error, non-2xx, unparseable document — worth retrying and
// reported as jwks-unavailable) as opposed to a bad signature or an
// unknown kid after a successful refresh (permanent, reported as
// signature). go-oidc surfaces fetch failures as "oidc: get keys failed"
// or "failed to decode keys"; everything else is a signature-layer error.
func isFetchError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "get keys failed") ||
		strings.Contains(msg, "failed to decode keys") ||
		strings.Contains(msg, "unable to fetch")
}
