package vectorindex

import (
	"context"
	"sort"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Search embeds queryText, scores every entry in the shard for
// (namespace, kind, dimension) by cosine similarity, applies filters, and
// returns the top-k ranked hits joined back against the entity store for a
// full snapshot. Ties are broken by updated_at descending then path
// ascending, matching P5's determinism requirement.
func (idx *Index) Search(ctx context.Context, namespace string, kind models.EntityKind, queryText string, topK int, filters Filters) ([]models.SearchResult, error) {
	vectors, err := idx.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	query := vectors[0]
	dim := len(query)

	s := idx.shardFor(namespace, kind, dim)
	entries := s.snapshot()

	type scored struct {
		e     *entry
		score float64
	}
	scoredEntries := make([]scored, 0, len(entries))
	for _, e := range entries {
		if filters.EnabledOnly && !e.enabled {
			continue
		}
		if filters.Tag != "" && !hasTag(e.tags, filters.Tag) {
			continue
		}
		if filters.Paths != nil && !filters.Paths[e.path] {
			continue
		}
		scoredEntries = append(scoredEntries, scored{e: e, score: cosineSimilarity(query, e.vector)})
	}

	sort.SliceStable(scoredEntries, func(i, j int) bool {
		if scoredEntries[i].score != scoredEntries[j].score {
			return scoredEntries[i].score > scoredEntries[j].score
		}
		if !scoredEntries[i].e.updatedAt.Equal(scoredEntries[j].e.updatedAt) {
			return scoredEntries[i].e.updatedAt.After(scoredEntries[j].e.updatedAt)
		}
		return scoredEntries[i].e.path < scoredEntries[j].e.path
	})

	if topK > 0 && len(scoredEntries) > topK {
		scoredEntries = scoredEntries[:topK]
	}

	out := make([]models.SearchResult, 0, len(scoredEntries))
	for _, se := range scoredEntries {
		snap, err := idx.store.GetRegistrable(ctx, kind, namespace, se.e.path)
		if err != nil {
			// The entity was deleted between the index snapshot and this
			// join; skip it rather than fail the whole search.
			continue
		}
		out = append(out, models.SearchResult{Path: se.e.path, Score: se.score, Snapshot: snap})
	}
	return out, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
