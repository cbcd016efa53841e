package health

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Event is one state transition, published on the supervisor's broadcast
// channel for the admin websocket feed (§4.G).
type Event struct {
	Kind      models.EntityKind `json:"kind"`
	Namespace string            `json:"namespace"`
	Path      string            `json:"path"`
	Health    models.Health     `json:"health"`
}

// subscriber mirrors internal/store's broadcaster shape: a bounded,
// non-blocking per-subscriber channel. A slow admin websocket client drops
// events and is marked lagged rather than stalling the probe loop.
type subscriber struct {
	ch     chan Event
	lagged bool
}

type broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]*subscriber)}
}

func (b *broadcaster) subscribe(bufferSize int) (string, <-chan Event) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan Event, bufferSize)}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if !sub.lagged {
				sub.lagged = true
				log.Warn().Str("subscriber", id).Msg("🐢 health feed subscriber lagging, dropping event")
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
