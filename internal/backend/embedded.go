package backend

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Embedded is the in-process Driver implementation: guarded maps of
// collection → key → record, brute-force cosine-similarity vector search,
// and debounced disk-snapshot persistence. Adapted from the control plane's
// original in-memory store, generalized from a fixed set of typed entity
// maps to a generic collection map so any CollectionSpec can be served.
type Embedded struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record

	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
	closeOnce    sync.Once
}

// EmbeddedOption configures the Embedded driver.
type EmbeddedOption func(*Embedded)

// WithSnapshotPath enables debounced JSON-file persistence at the given path.
func WithSnapshotPath(path string) EmbeddedOption {
	return func(e *Embedded) { e.snapshotPath = path }
}

// NewEmbedded creates an in-process driver. If REGISTRY_DATA_DIR is unset
// and no WithSnapshotPath option is given, persistence is disabled and all
// state is lost on process exit (acceptable for tests and ephemeral dev).
func NewEmbedded(opts ...EmbeddedOption) *Embedded {
	e := &Embedded{
		collections: make(map[string]map[string]Record),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.snapshotPath == "" {
		if dir := os.Getenv("REGISTRY_DATA_DIR"); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err == nil {
				e.snapshotPath = filepath.Join(dir, "registry-snapshot.json")
			}
		}
	}
	if e.snapshotPath != "" {
		e.loadSnapshot()
		go e.saveLoop()
	}
	log.Info().Str("snapshot", e.snapshotPath).Msg("🗂️ embedded backend driver configured")
	return e
}

func (e *Embedded) requestSave() {
	if e.snapshotPath == "" {
		return
	}
	select {
	case e.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces rapid successive writes into a single disk flush every
// 500ms at most, matching the coalescing-channel idiom the embedded driver
// was adapted from.
func (e *Embedded) saveLoop() {
	for {
		select {
		case <-e.doneCh:
			return
		case <-e.saveCh:
			time.Sleep(500 * time.Millisecond)
			e.saveSnapshot()
		}
	}
}

func (e *Embedded) saveSnapshot() {
	e.mu.RLock()
	data, err := json.Marshal(e.collections)
	e.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal embedded snapshot")
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	tmp := e.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write snapshot tmp file")
		return
	}
	if err := os.Rename(tmp, e.snapshotPath); err != nil {
		log.Error().Err(err).Msg("failed to rename snapshot tmp file")
	}
}

func (e *Embedded) loadSnapshot() {
	data, err := os.ReadFile(e.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read snapshot, starting fresh")
		}
		return
	}
	var collections map[string]map[string]Record
	if err := json.Unmarshal(data, &collections); err != nil {
		log.Error().Err(err).Msg("failed to parse snapshot, starting fresh")
		return
	}
	e.mu.Lock()
	e.collections = collections
	e.mu.Unlock()
}

func (e *Embedded) collectionLocked(name string) map[string]Record {
	c, ok := e.collections[name]
	if !ok {
		c = make(map[string]Record)
		e.collections[name] = c
	}
	return c
}

func (e *Embedded) Get(_ context.Context, collection, key string) (Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[collection]
	if !ok {
		return nil, &contracts.NotFound{Entity: collection, Key: key}
	}
	rec, ok := c[key]
	if !ok {
		return nil, &contracts.NotFound{Entity: collection, Key: key}
	}
	return cloneRecord(rec), nil
}

func (e *Embedded) Put(_ context.Context, collection, key string, record Record) error {
	e.mu.Lock()
	c := e.collectionLocked(collection)
	c[key] = cloneRecord(record)
	e.mu.Unlock()
	e.requestSave()
	return nil
}

func (e *Embedded) Delete(_ context.Context, collection, key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.collections[collection]
	if !ok {
		return false, nil
	}
	_, existed := c[key]
	delete(c, key)
	if existed {
		e.requestSave()
	}
	return existed, nil
}

type embeddedIterator struct {
	items []struct {
		key string
		rec Record
	}
	pos int
}

func (it *embeddedIterator) Next(_ context.Context) (string, Record, bool, error) {
	if it.pos >= len(it.items) {
		return "", nil, false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item.key, item.rec, true, nil
}

func (it *embeddedIterator) Close() error { return nil }

func (e *Embedded) List(_ context.Context, collection string, filter Filter, opts ListOptions) (Iterator, error) {
	e.mu.RLock()
	c := e.collections[collection]
	items := make([]struct {
		key string
		rec Record
	}, 0, len(c))
	for k, rec := range c {
		if matchFilter(rec, filter) {
			items = append(items, struct {
				key string
				rec Record
			}{k, cloneRecord(rec)})
		}
	}
	e.mu.RUnlock()

	if opts.Sort != "" {
		desc := false
		field := opts.Sort
		if len(field) > 0 && field[0] == '-' {
			desc = true
			field = field[1:]
		}
		sort.SliceStable(items, func(i, j int) bool {
			vi, _ := items[i].rec[field].(string)
			vj, _ := items[j].rec[field].(string)
			if desc {
				return vi > vj
			}
			return vi < vj
		})
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			items = nil
		} else {
			items = items[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return &embeddedIterator{items: items}, nil
}

// VectorSearch computes exact cosine similarity across every record in the
// collection carrying a "vector" field, matching the spec's requirement
// that the fallback backend returns cosine top-k when no native ANN exists.
func (e *Embedded) VectorSearch(_ context.Context, collection string, query []float64, k int, filter Filter) ([]ScoredKey, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	type scored struct {
		key   string
		score float64
	}
	var candidates []scored
	for key, rec := range e.collections[collection] {
		if !matchFilter(rec, filter) {
			continue
		}
		vecAny, ok := rec["vector"]
		if !ok {
			continue
		}
		vec, ok := toFloat64Slice(vecAny)
		if !ok || len(vec) != len(query) {
			continue
		}
		candidates = append(candidates, scored{key: key, score: cosineSimilarity(query, vec)})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]ScoredKey, len(candidates))
	for i, c := range candidates {
		out[i] = ScoredKey{Key: c.key, Score: c.score}
	}
	return out, nil
}

// EnsureSchema is a no-op beyond guaranteeing the collection map exists:
// the embedded driver has no real index structures to build.
func (e *Embedded) EnsureSchema(_ context.Context, spec CollectionSpec) error {
	e.mu.Lock()
	e.collectionLocked(spec.Name)
	e.mu.Unlock()
	return nil
}

func (e *Embedded) HealthCheck(_ context.Context) error { return nil }

// Close stops the debounce goroutine and flushes a final snapshot. Safe to
// call more than once.
func (e *Embedded) Close() error {
	e.closeOnce.Do(func() {
		close(e.doneCh)
		if e.snapshotPath != "" {
			e.saveSnapshot()
		}
	})
	return nil
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func toFloat64Slice(v any) ([]float64, bool) {
	switch t := v.(type) {
	case []float64:
		return t, true
	case []any:
		out := make([]float64, len(t))
		for i, x := range t {
			f, ok := x.(float64)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func cosineSimilarity(a, b []float64) float64 {
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

var _ Driver = (*Embedded)(nil)
