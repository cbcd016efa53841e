package contracts

import (
	"context"
	"fmt"
)

// ── Error taxonomy (§7) ──────────────────────────────────────
//
// Every operation exposed by the orchestrator returns either a successful
// snapshot or exactly one of the tagged errors below; callers type-switch
// (via errors.As) rather than string-matching messages.

// NotFound is returned when a keyed lookup has no matching record.
type NotFound struct {
	Entity string
	Key    string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s %q: not found", e.Entity, e.Key) }

// Conflict is returned when a Put would violate a unique-key invariant.
type Conflict struct {
	Entity string
	Key    string
}

func (e *Conflict) Error() string { return fmt.Sprintf("%s %q: already exists", e.Entity, e.Key) }

// Invalid is returned when a payload fails validation before it reaches
// the backend driver.
type Invalid struct {
	Field  string
	Reason string
}

func (e *Invalid) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// Forbidden is returned when the policy engine denies an operation.
type Forbidden struct {
	Reason string
}

func (e *Forbidden) Error() string { return fmt.Sprintf("forbidden: %s", e.Reason) }

// TokenInvalid is returned by the token verifier (F) on any verification
// failure. Reason is one of: signature, expired, issuer, audience,
// malformed, jwks-unavailable.
type TokenInvalid struct {
	Reason string
}

func (e *TokenInvalid) Error() string { return fmt.Sprintf("token invalid: %s", e.Reason) }

// BackendUnavailable is returned when the backend driver (A) cannot reach
// persistent storage. Idempotent reads are retried once with jitter at the
// orchestrator boundary; writes are not retried.
type BackendUnavailable struct {
	Cause error
}

func (e *BackendUnavailable) Error() string { return fmt.Sprintf("backend unavailable: %v", e.Cause) }
func (e *BackendUnavailable) Unwrap() error { return e.Cause }

// UpstreamUnreachable is raised only inside the health supervisor (G); it
// never propagates to a caller, it only drives a state transition.
type UpstreamUnreachable struct {
	Target string
	Cause  error
}

func (e *UpstreamUnreachable) Error() string {
	return fmt.Sprintf("upstream %q unreachable: %v", e.Target, e.Cause)
}
func (e *UpstreamUnreachable) Unwrap() error { return e.Cause }

// EmbeddingsFailed is returned by the embeddings client (C). When Transient
// is true the index synchronizer (D) re-queues the change event with
// backoff instead of dead-lettering it immediately.
type EmbeddingsFailed struct {
	Transient bool
	Cause     error
}

func (e *EmbeddingsFailed) Error() string {
	return fmt.Sprintf("embeddings failed (transient=%t): %v", e.Transient, e.Cause)
}
func (e *EmbeddingsFailed) Unwrap() error { return e.Cause }

// IndexStale is returned when a caller requested a synchronous wait for the
// vector index to catch up (4.D) and the configured deadline elapsed first.
// It is a flag, not a hard failure: the write itself already succeeded.
type IndexStale struct {
	WaitedFor string
}

func (e *IndexStale) Error() string { return fmt.Sprintf("index stale after waiting %s", e.WaitedFor) }

// Internal wraps a recovered panic or unexpected error at the orchestrator
// boundary. CorrelationID lets an operator find the full log line.
type Internal struct {
	CorrelationID string
	Cause         error
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error (correlation_id=%s): %v", e.CorrelationID, e.Cause)
}
func (e *Internal) Unwrap() error { return e.Cause }

// ── Cross-cutting service contracts ─────────────────────────

// EmbeddingDriver is the producer-of-vectors contract for component C.
// Implementations: local (in-process), remote-openai-compatible,
// remote-cohere, remote-bedrock.
type EmbeddingDriver interface {
	Kind() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
	MaxBatchSize() int
	HealthCheck(ctx context.Context) error
}

// VectorBackend is a narrow view of the backend driver (A)'s vector search.
// Nothing in this module consumes it: the vector index (D) scores its own
// in-memory shards.
type VectorBackend interface {
	VectorSearch(ctx context.Context, collection string, query []float64, k int, filter map[string]any) ([]ScoredKeyScore, error)
}

// ScoredKeyScore avoids an import cycle with pkg/models for the narrow
// VectorBackend contract above; it has the same fields as models.ScoredKey.
type ScoredKeyScore struct {
	Key   string
	Score float64
}
