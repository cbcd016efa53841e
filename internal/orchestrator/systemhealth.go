package orchestrator

import "context"

// SystemStatus aggregates the liveness of every configured embeddings
// provider and backend driver, served by the admin surface alongside the
// per-entity health the supervisor (G) tracks — this is "is the control
// plane's own dependency graph healthy", not "are the registered upstreams
// healthy".
type SystemStatus struct {
	Embeddings map[string]string `json:"embeddings"`
	Backends   map[string]string `json:"backends"`
}

// SystemHealth runs a liveness check across every registered embeddings
// provider (C) and backend driver (A), converting each error to a string
// so the orchestrator's public surface doesn't leak their internal error
// types to the HTTP layer.
func (c *Core) SystemHealth(ctx context.Context) SystemStatus {
	status := SystemStatus{
		Embeddings: make(map[string]string),
		Backends:   make(map[string]string),
	}
	for name, err := range c.embeddings.HealthCheckAll(ctx) {
		if err != nil {
			status.Embeddings[name] = err.Error()
		} else {
			status.Embeddings[name] = "ok"
		}
	}
	for name, err := range c.backends.HealthCheckAll(ctx) {
		if err != nil {
			status.Backends[name] = err.Error()
		} else {
			status.Backends[name] = "ok"
		}
	}
	return status
}
