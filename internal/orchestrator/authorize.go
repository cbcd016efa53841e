package orchestrator

import (
	"context"

	"github.com/agentoven/registry-gateway/control-plane/internal/policy"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// requireAdmin gates every mutation per §4.H: "only admin-grade groups may
// create/update/delete/toggle". Admin-grade is whatever the policy engine's
// table grants method "admin" for on service path "*" — the synthetic
// wildcard permission implied by scopes.admin_group_pattern, or a scope
// record permission on server "*" whose methods cover "admin". An "admin"
// permission scoped to a single server path does not count.
func (c *Core) requireAdmin(namespace string, identity contracts.Identity) error {
	table := c.tableFor(namespace)
	decision := policy.Evaluate(table, toPolicyIdentity(identity), policy.Operation{ServicePath: "*", Method: "admin"})
	if !decision.Allowed {
		return &contracts.Forbidden{Reason: decision.Reason}
	}
	return nil
}

// AuthorizeCall is the decision point the gateway/proxy layer calls before
// forwarding an invoke/list request to an upstream server or agent.
func (c *Core) AuthorizeCall(ctx context.Context, identity contracts.Identity, servicePath, method, tool string) policy.Decision {
	namespace := namespaceOf(c, identity, identity.Namespace)
	table := c.tableFor(namespace)
	return policy.Evaluate(table, toPolicyIdentity(identity), policy.Operation{ServicePath: servicePath, Method: method, Tool: tool})
}

// ScopeTableSnapshot names a namespace whose scope table is loaded. It
// carries no scope records or permissions; policy.Table is not exposed,
// so callers can't mutate the live, shared pointer.
type ScopeTableSnapshot struct {
	Namespace string
}

// LoadScopeTable confirms a namespace's policy watcher is running and
// returns a snapshot handle. The table itself is already loaded and kept
// current by the watcher started in Core.Start; this operation exists so
// admin tooling has an explicit "is this namespace's policy loaded" check
// per §4.H, surfacing BackendUnavailable if the watcher was never started
// (namespace not in the configured namespace set, or B was unreachable
// during startup).
func (c *Core) LoadScopeTable(ctx context.Context, namespace string) (ScopeTableSnapshot, error) {
	c.watchersMu.RLock()
	_, ok := c.watchers[namespace]
	c.watchersMu.RUnlock()
	if !ok {
		return ScopeTableSnapshot{}, &contracts.BackendUnavailable{Cause: errNamespaceNotLoaded(namespace)}
	}
	return ScopeTableSnapshot{Namespace: namespace}, nil
}
