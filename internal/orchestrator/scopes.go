package orchestrator

import (
	"context"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Scope records aren't one of §4.H's nine public operations, but an admin
// still needs a way to write them other than hand-editing the legacy scope
// file — these are thin, admin-gated passthroughs to the entity store,
// kept here rather than in the HTTP layer so the same requireAdmin check
// that guards entity mutations also guards scope mutations.

// PutScope creates or replaces a scope record. The namespace's policy
// watcher picks up the change asynchronously off the store's change-event
// bus, so the new table is not necessarily in effect when PutScope
// returns; LoadScopeTable reports only that the watcher is running, not
// whether this change has been applied.
func (c *Core) PutScope(ctx context.Context, scope *models.Scope, identity contracts.Identity) (*models.Scope, error) {
	namespace := namespaceOf(c, identity, scope.Namespace)
	scope.Namespace = namespace
	if err := c.requireAdmin(namespace, identity); err != nil {
		return nil, err
	}
	return c.store.PutScope(ctx, scope)
}

// DeleteScope removes a scope record by name.
func (c *Core) DeleteScope(ctx context.Context, namespace, name string, identity contracts.Identity) error {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return err
	}
	return c.store.DeleteScope(ctx, namespace, name)
}

// GetScope returns a single scope record. Reading scope definitions is
// itself admin-grade — a caller who can't administer the namespace
// shouldn't be able to enumerate its permission grants.
func (c *Core) GetScope(ctx context.Context, namespace, name string, identity contracts.Identity) (*models.Scope, error) {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return nil, err
	}
	return c.store.GetScope(ctx, namespace, name)
}

// ListScopes returns every scope record configured for a namespace.
func (c *Core) ListScopes(ctx context.Context, namespace string, identity contracts.Identity) ([]*models.Scope, error) {
	namespace = namespaceOf(c, identity, namespace)
	if err := c.requireAdmin(namespace, identity); err != nil {
		return nil, err
	}
	return c.store.ListScopes(ctx, namespace)
}
