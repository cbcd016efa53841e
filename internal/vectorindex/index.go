// Package vectorindex implements the vector index (component D): an
// in-memory ANN index keyed by (namespace, entity_kind, dimension), kept in
// sync with the entity store (B) by consuming its change-event broadcast
// and calling the embeddings client (C) to re-embed on demand. The index is
// never the source of truth — on restart it is rebuilt entirely from the
// EmbeddingRecords already persisted in B.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// shardKey partitions the index the way §4.D requires: one ANN shard per
// (namespace, entity kind, dimension) triple, so a namespace that switches
// embedding models mid-life doesn't corrupt searches against its old
// vectors.
type shardKey struct {
	Namespace string
	Kind      models.EntityKind
	Dimension int
}

type entry struct {
	path      string
	vector    []float64
	updatedAt time.Time
	tags      []string
	enabled   bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newShard() *shard { return &shard{entries: make(map[string]*entry)} }

func (s *shard) upsert(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.path] = e
}

func (s *shard) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

func (s *shard) snapshot() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Filters narrows a Search call beyond plain semantic ranking.
type Filters struct {
	Tag         string
	EnabledOnly bool
	Paths       map[string]bool // when non-nil, restrict to this set of paths
}

// Index is the component-D implementation.
type Index struct {
	mu          sync.RWMutex
	shards      map[shardKey]*shard
	store       store.Store
	embedder    contracts.EmbeddingDriver
	syncWaitMax time.Duration

	sf      singleflight.Group
	waiters sync.Map // path -> time.Time of last change-event processed

	retriesMu sync.Mutex
	retries   map[string]*upsertRetry

	subID     string
	changes   <-chan models.ChangeEvent
	requeueCh chan models.ChangeEvent
	stopCh    chan struct{}
	doneCh    chan struct{}
	ready     bool
	readyMu   sync.RWMutex
}

// New constructs the index without starting anything. Start performs the
// initial rebuild from B and then launches the consumer goroutine.
func New(st store.Store, embedder contracts.EmbeddingDriver, syncWaitMax time.Duration) *Index {
	idx := &Index{
		shards:      make(map[shardKey]*shard),
		store:       st,
		embedder:    embedder,
		syncWaitMax: syncWaitMax,
		retries:     make(map[string]*upsertRetry),
		requeueCh:   make(chan models.ChangeEvent, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	return idx
}

// Start rebuilds the index from B's persisted EmbeddingRecords for the
// given namespaces, then begins draining B's change-event channel. It is
// never the source of truth; this is the "index is never authoritative"
// invariant in action.
func (idx *Index) Start(ctx context.Context, namespaces []string) error {
	for _, ns := range namespaces {
		for _, kind := range []models.EntityKind{models.EntityKindServer, models.EntityKindAgent} {
			if err := idx.rebuildShard(ctx, ns, kind); err != nil {
				return fmt.Errorf("rebuild shard ns=%s kind=%s: %w", ns, kind, err)
			}
		}
	}

	idx.readyMu.Lock()
	idx.ready = true
	idx.readyMu.Unlock()

	id, ch := idx.store.Subscribe(256)
	idx.subID = id
	idx.changes = ch
	go idx.consumeLoop(ctx)
	log.Info().Strs("namespaces", namespaces).Msg("🧭 vector index ready")
	return nil
}

func (idx *Index) rebuildShard(ctx context.Context, namespace string, kind models.EntityKind) error {
	regs, err := idx.store.ListRegistrables(ctx, kind, namespace, store.ListFilter{})
	if err != nil {
		return err
	}
	for _, reg := range regs {
		rec, err := idx.store.GetEmbedding(ctx, namespace, kind, reg.GetPath())
		if err != nil {
			// No embedding yet for this entity (e.g. created before the
			// embedder was configured); the consumer loop will backfill it
			// on the next change event, so a missing record here is not
			// fatal to startup.
			continue
		}
		idx.shardFor(namespace, kind, len(rec.Vector)).upsert(&entry{
			path:      reg.GetPath(),
			vector:    rec.Vector,
			updatedAt: rec.UpdatedAt,
			tags:      tagsOf(reg),
			enabled:   reg.IsEnabled(),
		})
	}
	return nil
}

func (idx *Index) shardFor(namespace string, kind models.EntityKind, dim int) *shard {
	key := shardKey{Namespace: namespace, Kind: kind, Dimension: dim}
	idx.mu.RLock()
	s, ok := idx.shards[key]
	idx.mu.RUnlock()
	if ok {
		return s
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if s, ok := idx.shards[key]; ok {
		return s
	}
	s = newShard()
	idx.shards[key] = s
	return s
}

// Close stops the consumer goroutine and unsubscribes from B. It does not
// close the underlying store.
func (idx *Index) Close() error {
	close(idx.stopCh)
	<-idx.doneCh
	idx.store.Unsubscribe(idx.subID)
	return nil
}

func tagsOf(reg models.Registrable) []string {
	switch v := reg.(type) {
	case *models.Server:
		return v.Tags
	case *models.Agent:
		return v.Tags
	default:
		return nil
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
