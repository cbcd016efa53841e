package backend

import (
	"context"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/internal/telemetry"
)

// instrumentedDriver wraps a Driver with per-call latency observation on
// registry_backend_call_duration_seconds, labeled by driver kind and
// operation. Registered drivers are wrapped transparently at Register time
// so neither implementation needs to know about telemetry.
type instrumentedDriver struct {
	Driver
	kind string
}

func instrument(kind string, d Driver) Driver {
	return &instrumentedDriver{Driver: d, kind: kind}
}

func (d *instrumentedDriver) observe(op string, start time.Time) {
	telemetry.BackendCallDuration.WithLabelValues(d.kind, op).Observe(time.Since(start).Seconds())
}

func (d *instrumentedDriver) Get(ctx context.Context, collection, key string) (Record, error) {
	defer d.observe("get", time.Now())
	return d.Driver.Get(ctx, collection, key)
}

func (d *instrumentedDriver) Put(ctx context.Context, collection, key string, record Record) error {
	defer d.observe("put", time.Now())
	return d.Driver.Put(ctx, collection, key, record)
}

func (d *instrumentedDriver) Delete(ctx context.Context, collection, key string) (bool, error) {
	defer d.observe("delete", time.Now())
	return d.Driver.Delete(ctx, collection, key)
}

func (d *instrumentedDriver) List(ctx context.Context, collection string, filter Filter, opts ListOptions) (Iterator, error) {
	defer d.observe("list", time.Now())
	return d.Driver.List(ctx, collection, filter, opts)
}

func (d *instrumentedDriver) VectorSearch(ctx context.Context, collection string, query []float64, k int, filter Filter) ([]ScoredKey, error) {
	defer d.observe("vector_search", time.Now())
	return d.Driver.VectorSearch(ctx, collection, query, k, filter)
}
