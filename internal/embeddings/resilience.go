package embeddings

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/agentoven/registry-gateway/control-plane/internal/telemetry"
)

// newCircuit builds a per-driver circuit breaker tripping after 5
// consecutive failures, half-opening after 30s. Every remote embeddings
// driver (OpenAI-compatible, Cohere, Bedrock) wraps its outbound call in
// one of these so a wedged upstream doesn't pile up goroutines on the
// index synchronizer (D), which calls Embed synchronously per change event.
func newCircuit(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// callWithRetry runs fn through a bounded exponential backoff (max 3
// attempts, library-default intervals), used for embeddings calls so a single transient
// 429/5xx doesn't surface as a permanent EmbeddingsFailed{Transient:false}.
func callWithRetry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(fn, bo)
}

// recordEmbedCall reports the outcome of one Embed call to the registry_
// embeddings_calls_total counter, labeled by provider kind.
func recordEmbedCall(provider string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.EmbeddingsCallsTotal.WithLabelValues(provider, outcome).Inc()
}
