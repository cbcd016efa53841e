package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentoven/registry-gateway/control-plane/internal/backend"
	"github.com/agentoven/registry-gateway/control-plane/internal/embeddings"
	"github.com/agentoven/registry-gateway/control-plane/internal/health"
	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/internal/vectorindex"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// P2 — index/store consistency: once the change-event channel is drained
// and the vector index reports the path synced, every enabled entity has
// exactly one EmbeddingRecord in the store, and that path is reachable
// through the index's own Search (not just present in some internal map
// this test would otherwise have to reach into unexported fields for).
var _ = Describe("Index/store consistency (P2)", func() {
	It("keeps every enabled entity's embedding and index entry in sync across a random batch of registrations", func() {
		ctx := context.Background()

		driver := backend.NewEmbedded()
		st := store.New(driver)
		DeferCleanup(func() { Expect(st.Close()).To(Succeed()) })

		idx := vectorindex.New(st, fakeEmbedder{}, time.Second)
		Expect(idx.Start(ctx, []string{testNamespace})).To(Succeed())
		DeferCleanup(func() { Expect(idx.Close()).To(Succeed()) })

		sup := health.New(health.Config{}, st)
		embReg := embeddings.NewRegistry()
		embReg.Register("fake", fakeEmbedder{})
		backendReg := backend.NewRegistry()
		backendReg.Register("embedded", driver)

		c := New(Config{
			DefaultNamespace:  testNamespace,
			Namespaces:        []string{testNamespace},
			AdminGroupPattern: adminGroup,
		}, st, idx, sup, embReg, backendReg)
		Expect(c.Start(ctx)).To(Succeed())
		DeferCleanup(func() { c.Shutdown(ctx) })

		r := rand.New(rand.NewSource(7))
		const nEntities = 12
		var registered []string
		for i := 0; i < nEntities; i++ {
			path := fmt.Sprintf("/svc/prop-%d", i)
			srv := &models.Server{
				Path:          path,
				Namespace:     testNamespace,
				Name:          fmt.Sprintf("service %d", i),
				Description:   fmt.Sprintf("random description %d covering topic %d", i, r.Intn(100)),
				ProxyURL:      "http://localhost:9100",
				IsEnabledFlag: true,
			}
			_, err := c.RegisterEntity(ctx, testNamespace, srv, adminIdentity())
			Expect(err).NotTo(HaveOccurred())
			registered = append(registered, path)
		}

		for _, path := range registered {
			Expect(idx.WaitSynced(ctx, path)).To(Succeed())
		}

		for _, path := range registered {
			rec, err := st.GetEmbedding(ctx, testNamespace, models.EntityKindServer, path)
			Expect(err).NotTo(HaveOccurred(), "path %s should have exactly one EmbeddingRecord", path)
			Expect(rec.EntityPath).To(Equal(path))

			results, err := idx.Search(ctx, testNamespace, models.EntityKindServer, rec.TextBlob, nEntities, vectorindex.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(pathsOf(results)).To(ContainElement(path), "path %s should be reachable through the index", path)
		}
	})
})

func pathsOf(results []models.SearchResult) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.Path
	}
	return out
}
