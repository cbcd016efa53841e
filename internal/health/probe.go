package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// probe executes one transport-appropriate liveness check against a
// target's proxy URL, per §4.G's probe_method rules. It never returns a
// nil error unless the target answered; callers treat any error as one
// probe failure, never as a supervisor-fatal condition.
func (s *Supervisor) probe(ctx context.Context, t target) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	transport := primaryTransport(t.transports)
	switch transport {
	case models.TransportSSE:
		return s.probeSSE(ctx, t.proxyURL)
	case models.TransportStdio:
		return s.probeStdio(t)
	default:
		return s.probeHTTP(ctx, t.proxyURL)
	}
}

// primaryTransport picks the transport to probe when an entity declares
// more than one; HTTP-shaped transports are preferred since they're the
// cheapest to verify.
func primaryTransport(transports []models.Transport) models.Transport {
	for _, tr := range transports {
		if tr == models.TransportStreamableHTTP {
			return tr
		}
	}
	if len(transports) > 0 {
		return transports[0]
	}
	return models.TransportStreamableHTTP
}

func (s *Supervisor) probeHTTP(ctx context.Context, proxyURL string) error {
	url := strings.TrimSuffix(proxyURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health probe request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return nil
}

// probeSSE opens the SSE endpoint and closes it on the first successful
// byte read (or immediately on connection success if the stream hasn't
// flushed yet); a full event round-trip isn't required to consider the
// upstream reachable.
func (s *Supervisor) probeSSE(ctx context.Context, proxyURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxyURL, nil)
	if err != nil {
		return fmt.Errorf("build sse probe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sse probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sse probe returned %d", resp.StatusCode)
	}
	buf := make([]byte, 1)
	_, _ = resp.Body.Read(buf) // best-effort; a closed-but-200 stream still counts reachable
	return nil
}

// probeStdio verifies the registered process descriptor is still runnable.
// This system proxies stdio servers rather than spawning them directly, so
// "runnable" here means the entity still declares a non-empty proxy URL —
// actual process liveness for stdio transports is the proxy's concern, not
// the registry's.
func (s *Supervisor) probeStdio(t target) error {
	if t.proxyURL == "" {
		return fmt.Errorf("stdio target %s has no process descriptor", t.path)
	}
	return nil
}
