package policy_test

import (
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentoven/registry-gateway/control-plane/internal/policy"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// servicePaths, methods, and tools are the small vocabularies random
// permissions are drawn from; kept small so the generator actually
// produces overlapping and non-overlapping permissions often, rather than
// near-certainly-disjoint ones.
var (
	servicePaths = []string{"/svc/a", "/svc/b", "/svc/c", "*"}
	methodPool   = []string{"list", "invoke", "admin"}
	toolPool     = []string{"echo", "search", "write"}
)

func randomPermission(r *rand.Rand) models.Permission {
	nMethods := 1 + r.Intn(2)
	methods := make([]string, 0, nMethods)
	for i := 0; i < nMethods; i++ {
		methods = append(methods, methodPool[r.Intn(len(methodPool))])
	}
	var tools []string
	if r.Intn(2) == 0 {
		tools = append(tools, toolPool[r.Intn(len(toolPool))])
	}
	return models.Permission{
		Server:  servicePaths[r.Intn(len(servicePaths))],
		Methods: methods,
		Tools:   tools,
	}
}

func randomOperation(r *rand.Rand) policy.Operation {
	return policy.Operation{
		ServicePath: servicePaths[r.Intn(len(servicePaths)-1)], // never the bare "*" as a literal call target
		Method:      methodPool[r.Intn(len(methodPool))],
		Tool:        toolPool[r.Intn(len(toolPool))],
	}
}

func tableWithPermissions(scopeName string, perms []models.Permission) *policy.Table {
	scope := &models.Scope{Name: scopeName, Permissions: perms}
	return policy.Build([]*models.Scope{scope}, "never-matches-anything")
}

// P3 — policy monotonicity: adding a permission never causes a previously
// allowed operation to become denied, and removing one never causes a
// previously denied operation to become allowed. Both directions collapse
// into a single implication — decisionA.Allowed ⇒ decisionB.Allowed where
// B's permission set is a superset of A's — since "add" and "remove" are
// just the same edge walked in opposite directions.
var _ = Describe("Policy monotonicity (P3)", func() {
	const trials = 300
	const scopeName = "trial-scope"
	const subject = "caller"

	It("never turns an allow into a deny when a permission is added", func() {
		r := rand.New(rand.NewSource(1))
		for i := 0; i < trials; i++ {
			permsA := make([]models.Permission, 1+r.Intn(3))
			for j := range permsA {
				permsA[j] = randomPermission(r)
			}
			permsB := append(append([]models.Permission{}, permsA...), randomPermission(r))

			tableA := tableWithPermissions(scopeName, permsA)
			tableB := tableWithPermissions(scopeName, permsB)

			id := policy.Identity{Subject: subject, Groups: []string{scopeName}}
			op := randomOperation(r)

			decisionA := policy.Evaluate(tableA, id, op)
			decisionB := policy.Evaluate(tableB, id, op)

			if decisionA.Allowed {
				Expect(decisionB.Allowed).To(BeTrue(),
					fmt.Sprintf("trial %d: op %+v allowed under %v became denied under superset %v", i, op, permsA, permsB))
			}
		}
	})
})
