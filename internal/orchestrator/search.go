package orchestrator

import (
	"context"

	"github.com/agentoven/registry-gateway/control-plane/internal/policy"
	"github.com/agentoven/registry-gateway/control-plane/internal/vectorindex"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// SearchFilters narrows SearchEntities beyond semantic ranking. Policy
// filtering is not one of these fields: it is applied to the ranked hits
// after the index search returns.
type SearchFilters struct {
	Tag         string
	EnabledOnly bool
}

// SearchEntities ranks entities against the vector index (D) and then
// drops any hit the caller isn't authorized to at least list, rather than
// filtering before the ANN search — §4.D's index has no notion of
// identity, so policy filtering always happens at this boundary.
func (c *Core) SearchEntities(ctx context.Context, namespace string, kind models.EntityKind, query string, k int, filters SearchFilters, identity contracts.Identity) ([]models.SearchResult, error) {
	namespace = namespaceOf(c, identity, namespace)

	results, err := c.index.Search(ctx, namespace, kind, query, k, vectorindex.Filters{
		Tag:         filters.Tag,
		EnabledOnly: filters.EnabledOnly,
	})
	if err != nil {
		return nil, err
	}

	table := c.tableFor(namespace)
	policyIdentity := toPolicyIdentity(identity)
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		decision := policy.Evaluate(table, policyIdentity, policy.Operation{ServicePath: r.Path, Method: "list"})
		if decision.Allowed {
			out = append(out, r)
		}
	}
	return out, nil
}
