// Package policy implements the scope/policy engine (component E): a pure,
// no-I/O evaluator over an already-loaded scope table, fed by a watcher
// that reloads the table whenever the entity store reports a scope
// mutation or the operator-supplied legacy group file changes.
package policy

import (
	"fmt"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string // set only when Allowed is false
}

func allow() Decision   { return Decision{Allowed: true} }
func deny(r string) Decision { return Decision{Allowed: false, Reason: r} }

// Operation is the thing a caller is attempting.
type Operation struct {
	ServicePath string
	Method      string // "invoke", "list", "admin", ...
	Tool        string // optional
}

// Identity is the caller-side input to an authorization decision — the
// narrow subset of contracts.Identity the policy engine actually reads.
type Identity struct {
	Subject string
	Groups  []string
}

// Table is the canonical, permission-centric scope table: scope name to
// the permissions it grants. It is immutable once built — callers needing
// a fresh view after a mutation get a new Table via Build, swapped in by a
// Watcher under an atomic.Pointer (see watcher.go).
type Table struct {
	scopes       map[string][]models.Permission
	adminPattern string
}

// Build constructs an immutable Table from a namespace's scope records.
func Build(scopes []*models.Scope, adminGroupPattern string) *Table {
	t := &Table{
		scopes:       make(map[string][]models.Permission, len(scopes)),
		adminPattern: adminGroupPattern,
	}
	for _, sc := range scopes {
		t.scopes[sc.Name] = sc.Permissions
	}
	return t
}

// adminPermission is the synthetic full-grant permission implied by
// membership in the configured admin group pattern. It is never stored in
// a scope record; hardcoding it here is deliberate, per §4.E, "to prevent
// accidental self-demotion" if an operator edits the scope table and
// forgets to re-grant their own admin access.
var adminPermission = models.Permission{Server: "*", Methods: []string{"*"}, Tools: []string{"*"}}

// Evaluate is pure and allocation-light: a linear scan over the caller's
// groups and, per group, the scope's permission list — O(groups ×
// permissions), which §4.E accepts as a reasonable bound.
func Evaluate(t *Table, id Identity, op Operation) Decision {
	if len(id.Groups) == 0 {
		return deny("no-groups")
	}

	var matchedServer, matchedMethod bool
	for _, group := range id.Groups {
		perms := t.permissionsFor(group)
		for _, p := range perms {
			if !matchesServer(p, op.ServicePath) {
				continue
			}
			matchedServer = true
			if !matchesMethod(p, op.Method) {
				continue
			}
			matchedMethod = true
			if op.Tool != "" && !matchesTool(p, op.Tool) {
				continue
			}
			return allow()
		}
	}

	switch {
	case !matchedServer:
		return deny("no-matching-server")
	case !matchedMethod:
		return deny("method-excluded")
	default:
		return deny("tool-excluded")
	}
}

func (t *Table) permissionsFor(group string) []models.Permission {
	if t.adminPattern != "" && group == t.adminPattern {
		return []models.Permission{adminPermission}
	}
	return t.scopes[group]
}

func matchesServer(p models.Permission, servicePath string) bool {
	return p.Server == "*" || p.Server == servicePath
}

func matchesMethod(p models.Permission, method string) bool {
	return containsOrWildcard(p.Methods, method)
}

func matchesTool(p models.Permission, tool string) bool {
	if len(p.Tools) == 0 {
		return false
	}
	return containsOrWildcard(p.Tools, tool)
}

func containsOrWildcard(list []string, want string) bool {
	for _, v := range list {
		if v == "*" || v == want {
			return true
		}
	}
	return false
}

func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return fmt.Sprintf("deny(%s)", d.Reason)
}
