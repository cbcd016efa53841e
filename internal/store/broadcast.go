package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// broadcaster fans a ChangeEvent out to every subscriber over a bounded,
// per-subscriber channel. A slow or wedged subscriber never blocks the
// writer: a full channel is dropped-on-send and the subscriber is marked
// lagged, which logs one warning; the flag is not exposed to the
// subscriber and is never cleared. Adapted from the control plane gateway's Subscribe/
// Unsubscribe/Broadcast pattern, generalized from server-change events to
// the five entity kinds this store manages.
//
// When mirror is set, every locally-published event is also mirrored onto
// Redis pub/sub, and every remotely-published event received back is
// delivered to local subscribers — so a second orchestrator process
// sharing the same backend sees the same change-event stream.
type broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	mirror *redisMirror
}

type subscriber struct {
	ch     chan models.ChangeEvent
	lagged bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]*subscriber)}
}

// newBroadcasterWithRedis mirrors change events across processes over the
// given Redis client. ctx bounds the background subscription goroutine.
func newBroadcasterWithRedis(ctx context.Context, client *redis.Client) *broadcaster {
	b := &broadcaster{subs: make(map[string]*subscriber), mirror: newRedisMirror(client)}
	b.mirror.subscribe(ctx, b.deliverLocal)
	return b
}

func (b *broadcaster) subscribe(bufferSize int) (string, <-chan models.ChangeEvent) {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan models.ChangeEvent, bufferSize)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

func (b *broadcaster) publish(ev models.ChangeEvent) {
	b.deliverLocal(ev)
	if b.mirror != nil {
		b.mirror.publish(context.Background(), ev)
	}
}

// deliverLocal fans ev out to this process's own subscribers only — it
// never touches Redis, so it's safe to call both from publish (the local
// origin) and from the mirror's receive loop (a remote origin) without
// re-publishing a remote event back onto the bus.
func (b *broadcaster) deliverLocal(ev models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if !sub.lagged {
				sub.lagged = true
				log.Warn().Str("subscriber_id", id).Str("path", ev.Path).Msg("⚠️ change event subscriber is lagging, dropping event")
			}
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
