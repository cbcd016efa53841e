package backend

import (
	"context"
	"fmt"
	"sync"
)

// Registry is a thread-safe named-driver registry, letting the orchestrator
// select a Driver implementation by the configured `backend.kind` at
// startup without either implementation package knowing about the other.
// Adapted from the control plane's vectorstore driver registry.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

func (r *Registry) Register(kind string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[kind] = instrument(kind, d)
}

func (r *Registry) Get(kind string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("backend driver %q not registered", kind)
	}
	return d, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.drivers))
	for k := range r.drivers {
		out = append(out, k)
	}
	return out
}

// HealthCheckAll snapshots the registered drivers under the lock, then
// probes each outside the lock so a slow/hung driver never blocks
// registration of new drivers.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Driver, len(r.drivers))
	for k, v := range r.drivers {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]error, len(snapshot))
	for kind, d := range snapshot {
		out[kind] = d.HealthCheck(ctx)
	}
	return out
}

// CloseAll closes every registered driver, collecting (not short-circuiting
// on) errors so one slow driver's Close doesn't prevent others from running.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	snapshot := make([]Driver, 0, len(r.drivers))
	for _, v := range r.drivers {
		snapshot = append(snapshot, v)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, d := range snapshot {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
