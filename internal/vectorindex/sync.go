package vectorindex

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// maxUpsertRetries bounds how many times a change event's re-embed is
// requeued with backoff after a transient EmbeddingsFailed before it's
// dead-lettered (§7).
const maxUpsertRetries = 5

// upsertRetry tracks one path's requeue backoff state across successive
// deliveries of the same change event — NextBackOff advances the
// exponential sequence each call, so the state has to outlive a single
// handleUpsert invocation.
type upsertRetry struct {
	bo       *backoff.ExponentialBackOff
	attempts int
}

func newUpsertRetry() *upsertRetry {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0 // bounded by attempt count, not elapsed wall time
	return &upsertRetry{bo: bo}
}

func retryKey(ev models.ChangeEvent) string {
	return ev.Namespace + "/" + string(ev.Kind) + "/" + ev.Path
}

// consumeLoop drains B's change-event channel until stopCh closes. Each
// event is handled synchronously and in the order drained, matching §5's
// "writes are applied in the order drained from the change-event channel"
// rule — a second worker pool here would reorder upserts relative to
// deletes for the same path.
func (idx *Index) consumeLoop(ctx context.Context) {
	defer close(idx.doneCh)
	for {
		select {
		case <-idx.stopCh:
			return
		case ev, ok := <-idx.changes:
			if !ok {
				return
			}
			idx.handle(ctx, ev)
		case ev := <-idx.requeueCh:
			idx.handle(ctx, ev)
		}
	}
}

func (idx *Index) handle(ctx context.Context, ev models.ChangeEvent) {
	switch ev.Op {
	case models.ChangeCreated, models.ChangeUpdated:
		idx.handleUpsert(ctx, ev)
	case models.ChangeDeleted:
		idx.handleDelete(ctx, ev)
	case models.ChangeToggled:
		// §4.D: disabled entities remain discoverable, so a toggle keeps the
		// entry in its shard and only refreshes its enabled flag, which
		// Filters.EnabledOnly reads.
		if ev.Snapshot != nil {
			if rec, err := idx.store.GetEmbedding(ctx, ev.Namespace, ev.Kind, ev.Path); err == nil {
				idx.shardFor(ev.Namespace, ev.Kind, len(rec.Vector)).upsert(&entry{
					path: ev.Path, vector: rec.Vector, updatedAt: rec.UpdatedAt,
					tags: tagsOf(ev.Snapshot), enabled: ev.Snapshot.IsEnabled(),
				})
			}
		}
	}
	idx.notifyWaiters(ev.Path)
}

func (idx *Index) handleUpsert(ctx context.Context, ev models.ChangeEvent) {
	if ev.Snapshot == nil {
		return
	}
	blob := ev.Snapshot.TextBlob()

	existing, err := idx.store.GetEmbedding(ctx, ev.Namespace, ev.Kind, ev.Path)
	if err == nil && existing.TextBlob == blob {
		// Text blob unchanged: re-indexing would just re-embed an identical
		// string for no behavioral change, so skip it.
		return
	}

	// Embed calls are keyed by path through singleflight. consumeLoop handles
	// one event at a time, so two calls for the same path never overlap here
	// and each event whose text blob changed gets its own Embed call.
	key := ev.Namespace + "/" + string(ev.Kind) + "/" + ev.Path
	_, err, _ = idx.sf.Do(key, func() (any, error) {
		vectors, err := idx.embedder.Embed(ctx, []string{blob})
		if err != nil {
			if ef, ok := err.(*contracts.EmbeddingsFailed); ok && ef.Transient {
				idx.requeueWithBackoff(ev, err)
			} else {
				idx.deadLetter(ev, 1, err)
			}
			return nil, err
		}
		idx.clearRetry(retryKey(ev))
		vec := vectors[0]
		now := time.Now().UTC()
		rec := &models.EmbeddingRecord{
			EntityPath: ev.Path,
			EntityKind: ev.Kind,
			Namespace:  ev.Namespace,
			Vector:     vec,
			TextBlob:   blob,
			UpdatedAt:  now,
		}
		if err := idx.store.PutEmbedding(ctx, rec); err != nil {
			return nil, err
		}
		idx.shardFor(ev.Namespace, ev.Kind, len(vec)).upsert(&entry{
			path:      ev.Path,
			vector:    vec,
			updatedAt: now,
			tags:      tagsOf(ev.Snapshot),
			enabled:   ev.Snapshot.IsEnabled(),
		})
		return nil, nil
	})
}

// requeueWithBackoff re-delivers ev to the consumer loop after an
// exponentially growing delay, up to maxUpsertRetries times, before
// dead-lettering it — satisfying §7's "re-queue with backoff; after N
// retries the event is dead-lettered... but does not block subsequent
// events" without a second worker pool: the delay is a timer, not a
// blocked goroutine holding the consumer loop's single worker.
func (idx *Index) requeueWithBackoff(ev models.ChangeEvent, cause error) {
	key := retryKey(ev)

	idx.retriesMu.Lock()
	r, ok := idx.retries[key]
	if !ok {
		r = newUpsertRetry()
		idx.retries[key] = r
	}
	r.attempts++
	attempts := r.attempts
	delay := r.bo.NextBackOff()
	idx.retriesMu.Unlock()

	if attempts > maxUpsertRetries || delay == backoff.Stop {
		idx.clearRetry(key)
		idx.deadLetter(ev, attempts, cause)
		return
	}

	log.Warn().Str("path", ev.Path).Int("attempt", attempts).Dur("delay", delay).Err(cause).
		Msg("⏳ transient embed failure, requeuing with backoff")
	time.AfterFunc(delay, func() {
		select {
		case idx.requeueCh <- ev:
		case <-idx.stopCh:
		}
	})
}

func (idx *Index) clearRetry(key string) {
	idx.retriesMu.Lock()
	delete(idx.retries, key)
	idx.retriesMu.Unlock()
}

// deadLetter persists the audit record after a change event's re-embed
// exhausts its retry budget (or fails permanently). Uses a fresh
// background context since the original request context that triggered
// the original event may already be long gone by the time retries run out.
func (idx *Index) deadLetter(ev models.ChangeEvent, attempts int, cause error) {
	log.Error().Str("path", ev.Path).Int("attempts", attempts).Err(cause).Msg("🪦 embed retries exhausted, dead-lettering change event")
	rec := &models.DeadLetterRecord{
		Namespace:  ev.Namespace,
		EntityPath: ev.Path,
		EntityKind: ev.Kind,
		Op:         ev.Op,
		Attempts:   attempts,
		Reason:     cause.Error(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := idx.store.CreateDeadLetter(context.Background(), rec); err != nil {
		log.Error().Err(err).Str("path", ev.Path).Msg("failed to persist dead-letter audit record")
	}
}

func (idx *Index) handleDelete(ctx context.Context, ev models.ChangeEvent) {
	rec, err := idx.store.GetEmbedding(ctx, ev.Namespace, ev.Kind, ev.Path)
	if err == nil {
		idx.shardFor(ev.Namespace, ev.Kind, len(rec.Vector)).remove(ev.Path)
	}
	_ = idx.store.DeleteEmbedding(ctx, ev.Namespace, ev.Kind, ev.Path)
}

// waitFor blocks until the path has been processed by the consumer loop at
// least once after the call started, or until the configured sync_wait_max
// deadline elapses — whichever comes first. Returns contracts.IndexStale on
// timeout; the caller's write already succeeded regardless.
//
// Implemented as polling against a last-processed timestamp rather than a
// one-shot channel: a channel-based waiter registered after the event it's
// waiting for already happened would miss the close and spuriously time
// out, since the writer's Put (which publishes the change event) and the
// caller's WaitSynced are not otherwise synchronized.
func (idx *Index) waitFor(ctx context.Context, path string) error {
	if idx.syncWaitMax <= 0 {
		return nil
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, idx.syncWaitMax)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if idx.lastProcessedAfter(path, start) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return &contracts.IndexStale{WaitedFor: idx.syncWaitMax.String()}
		}
	}
}

func (idx *Index) lastProcessedAfter(path string, t time.Time) bool {
	v, ok := idx.waiters.Load(path)
	if !ok {
		return false
	}
	return v.(time.Time).After(t)
}

func (idx *Index) notifyWaiters(path string) {
	idx.waiters.Store(path, time.Now())
}

// WaitSynced is the public entry point for a writer's bounded synchronous
// wait (§4.D's "read-your-writes" escape hatch).
func (idx *Index) WaitSynced(ctx context.Context, path string) error {
	return idx.waitFor(ctx, path)
}

func (idx *Index) IsReady() bool {
	idx.readyMu.RLock()
	defer idx.readyMu.RUnlock()
	return idx.ready
}
