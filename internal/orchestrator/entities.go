package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentoven/registry-gateway/control-plane/internal/policy"
	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// retryOnceOnBackendUnavailable retries op a single time, after a short
// jittered delay, if it fails with *contracts.BackendUnavailable — the only
// error this package treats as transient. GetEntity and ListEntities are
// both idempotent reads, so one extra attempt against a backend driver (A)
// that's mid-failover is cheap insurance against surfacing a 503 for what
// is usually a sub-second blip. Any other error, or a second consecutive
// BackendUnavailable, is returned as-is.
func retryOnceOnBackendUnavailable(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var unavailable *contracts.BackendUnavailable
		if !errors.As(err, &unavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// RegisterEntity creates a new Server or Agent. Only admin-grade groups may
// register; see requireAdmin in authorize.go.
func (c *Core) RegisterEntity(ctx context.Context, namespace string, entity models.Registrable, identity contracts.Identity) (models.Registrable, error) {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return nil, err
	}

	var created models.Registrable
	err := c.withPathLock(namespace, entity.GetEntityKind(), entity.GetPath(), func() error {
		var err error
		created, err = c.putEntity(ctx, entity, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEntity replaces a Server or Agent's stored fields, keyed on
// (namespace, kind, path). patch must carry the same path as the existing
// record; callers looking to rename an entity delete and re-register it.
func (c *Core) UpdateEntity(ctx context.Context, namespace string, kind models.EntityKind, path string, patch models.Registrable, identity contracts.Identity) (models.Registrable, error) {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return nil, err
	}

	var updated models.Registrable
	err := c.withPathLock(namespace, kind, path, func() error {
		if _, err := c.store.GetRegistrable(ctx, kind, namespace, path); err != nil {
			return err
		}
		var err error
		updated, err = c.putEntity(ctx, patch, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Core) putEntity(ctx context.Context, entity models.Registrable, create bool) (models.Registrable, error) {
	switch v := entity.(type) {
	case *models.Server:
		return c.store.PutServer(ctx, v, create)
	case *models.Agent:
		return c.store.PutAgent(ctx, v, create)
	default:
		return nil, &contracts.Invalid{Field: "kind", Reason: fmt.Sprintf("unsupported registrable type %T", entity)}
	}
}

// DeleteEntity removes a Server or Agent. The store's own delete emits the
// change event that retires the entity from the vector index and the
// health supervisor.
func (c *Core) DeleteEntity(ctx context.Context, namespace string, kind models.EntityKind, path string, identity contracts.Identity) error {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return err
	}

	return c.withPathLock(namespace, kind, path, func() error {
		switch kind {
		case models.EntityKindServer:
			return c.store.DeleteServer(ctx, namespace, path)
		case models.EntityKindAgent:
			return c.store.DeleteAgent(ctx, namespace, path)
		default:
			return &contracts.Invalid{Field: "kind", Reason: string(kind)}
		}
	})
}

// ToggleEntity flips is_enabled without touching any other field.
func (c *Core) ToggleEntity(ctx context.Context, namespace string, kind models.EntityKind, path string, enabled bool, identity contracts.Identity) (models.Registrable, error) {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return nil, err
	}

	var out models.Registrable
	err := c.withPathLock(namespace, kind, path, func() error {
		var err error
		switch kind {
		case models.EntityKindServer:
			out, err = c.store.ToggleServer(ctx, namespace, path, enabled)
		case models.EntityKindAgent:
			out, err = c.store.ToggleAgent(ctx, namespace, path, enabled)
		default:
			err = &contracts.Invalid{Field: "kind", Reason: string(kind)}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEntity returns a snapshot with health merged in. Callers must hold at
// least "list" permission on the entity's service path.
func (c *Core) GetEntity(ctx context.Context, namespace string, kind models.EntityKind, path string, identity contracts.Identity) (models.Registrable, error) {
	namespace = namespaceOf(c, identity, namespace)
	var reg models.Registrable
	err := retryOnceOnBackendUnavailable(ctx, func() error {
		var err error
		reg, err = c.store.GetRegistrable(ctx, kind, namespace, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	decision := policy.Evaluate(c.tableFor(namespace), toPolicyIdentity(identity), policy.Operation{ServicePath: path, Method: "list"})
	if !decision.Allowed {
		return nil, &contracts.Forbidden{Reason: decision.Reason}
	}
	return reg, nil
}

// EntityFilter narrows ListEntities beyond what store.ListFilter already
// offers; it's a thin alias kept separate from store.ListFilter so the
// orchestrator's public surface doesn't leak B's storage-layer type.
type EntityFilter struct {
	Tag         string
	EnabledOnly bool
	Limit       int
	Cursor      string
}

// ListEntities returns every registrable of kind in namespace the caller
// may at least list, per §4.H's read-filtering rule.
func (c *Core) ListEntities(ctx context.Context, namespace string, kind models.EntityKind, filter EntityFilter, identity contracts.Identity) ([]models.Registrable, error) {
	namespace = namespaceOf(c, identity, namespace)
	var regs []models.Registrable
	err := retryOnceOnBackendUnavailable(ctx, func() error {
		var err error
		regs, err = c.store.ListRegistrables(ctx, kind, namespace, store.ListFilter{
			Tag:         filter.Tag,
			EnabledOnly: filter.EnabledOnly,
			Limit:       filter.Limit,
			Cursor:      filter.Cursor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	table := c.tableFor(namespace)
	policyIdentity := toPolicyIdentity(identity)
	out := make([]models.Registrable, 0, len(regs))
	for _, reg := range regs {
		decision := policy.Evaluate(table, policyIdentity, policy.Operation{ServicePath: reg.GetPath(), Method: "list"})
		if decision.Allowed {
			out = append(out, reg)
		}
	}
	return out, nil
}
