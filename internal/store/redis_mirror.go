package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

const redisChangeChannel = "registry:changes"

// redisMirror fans a Store's change-event broadcast across process
// boundaries via Redis pub/sub, so a second orchestrator process sharing
// the same pgvector backend observes the same ChangeEvents its own vector
// index (D) and health supervisor (G) react to locally. Single-process/
// embedded deployments never construct one — it's feature-detected by
// whether a Redis URL is configured.
type redisMirror struct {
	client *redis.Client
	nodeID string
}

// wireChangeEvent carries the publishing node's ID so a node never
// re-delivers its own event back to its local subscribers after Redis
// echoes it to every subscriber, publisher included. Snapshot travels as
// raw JSON because models.ChangeEvent.Snapshot is a Registrable interface
// that plain json.Unmarshal can't reconstitute without knowing Kind first.
type wireChangeEvent struct {
	NodeID    string            `json:"node_id"`
	Kind      models.EntityKind `json:"kind"`
	Namespace string            `json:"namespace"`
	Path      string            `json:"path"`
	Op        models.ChangeOp   `json:"op"`
	Snapshot  json.RawMessage   `json:"snapshot,omitempty"`
}

func newRedisMirror(client *redis.Client) *redisMirror {
	return &redisMirror{client: client, nodeID: uuid.NewString()}
}

func (m *redisMirror) publish(ctx context.Context, ev models.ChangeEvent) {
	wire := wireChangeEvent{
		NodeID:    m.nodeID,
		Kind:      ev.Kind,
		Namespace: ev.Namespace,
		Path:      ev.Path,
		Op:        ev.Op,
	}
	if ev.Snapshot != nil {
		snap, err := json.Marshal(ev.Snapshot)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal change event snapshot for redis mirror")
			return
		}
		wire.Snapshot = snap
	}
	data, err := json.Marshal(wire)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal change event for redis mirror")
		return
	}
	if err := m.client.Publish(ctx, redisChangeChannel, data).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to publish change event to redis")
	}
}

// subscribe relays change events published by other nodes into onRemote,
// skipping this node's own echoed publications, until ctx is canceled.
func (m *redisMirror) subscribe(ctx context.Context, onRemote func(models.ChangeEvent)) {
	sub := m.client.Subscribe(ctx, redisChangeChannel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, nodeID, err := decodeWireEvent(msg.Payload)
				if err != nil {
					log.Warn().Err(err).Msg("failed to unmarshal mirrored change event")
					continue
				}
				if nodeID == m.nodeID {
					continue
				}
				onRemote(ev)
			}
		}
	}()
}

func decodeWireEvent(payload string) (models.ChangeEvent, string, error) {
	var wire wireChangeEvent
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return models.ChangeEvent{}, "", err
	}
	ev := models.ChangeEvent{
		Kind:      wire.Kind,
		Namespace: wire.Namespace,
		Path:      wire.Path,
		Op:        wire.Op,
	}
	if len(wire.Snapshot) > 0 {
		switch wire.Kind {
		case models.EntityKindServer:
			var s models.Server
			if err := json.Unmarshal(wire.Snapshot, &s); err == nil {
				ev.Snapshot = &s
			}
		case models.EntityKindAgent:
			var a models.Agent
			if err := json.Unmarshal(wire.Snapshot, &a); err == nil {
				ev.Snapshot = &a
			}
		}
	}
	return ev, wire.NodeID, nil
}
