// Package orchestrator implements the core orchestrator (component H): the
// single entry point the HTTP surface calls into, wiring together the
// backend driver (A), entity store (B), embeddings client (C), vector index
// (D), policy engine (E), token verifier (F), and health supervisor (G)
// behind the operation table in §4.H.
//
// Grounded in pkg/server.Server's buildServer construction graph, trimmed
// of every concern this system doesn't carry (sessions, recipes, workflow
// engine, RAG pipeline, retention janitor, notification channels — see
// DESIGN.md for the per-module disposition).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/internal/backend"
	"github.com/agentoven/registry-gateway/control-plane/internal/embeddings"
	"github.com/agentoven/registry-gateway/control-plane/internal/health"
	"github.com/agentoven/registry-gateway/control-plane/internal/policy"
	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/internal/vectorindex"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Config carries the orchestrator's own tuning knobs; everything else
// (embeddings, backend, health, policy) is configured on its own component
// and handed to New already constructed, following pkg/server.buildServer's
// pattern of assembling collaborators before wiring the thing that uses
// them.
type Config struct {
	DefaultNamespace  string
	Namespaces        []string
	AdminGroupPattern string
	LegacyScopeFile   string
	ShutdownTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultNamespace == "" {
		c.DefaultNamespace = "default"
	}
	if len(c.Namespaces) == 0 {
		c.Namespaces = []string{c.DefaultNamespace}
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	return c
}

// Core is the component-H implementation.
type Core struct {
	cfg Config

	store      store.Store
	index      *vectorindex.Index
	supervisor *health.Supervisor
	embeddings *embeddings.Registry
	backends   *backend.Registry

	watchersMu sync.RWMutex
	watchers   map[string]*policy.Watcher

	locksMu sync.Mutex
	locks   map[string]*pathLock

	stopCh chan struct{}
}

type pathLock struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// New wires A–G into a Core. The caller (pkg/server.buildServer, reached
// from cmd/server/main.go through server.New) constructs each collaborator
// first, in dependency order.
func New(cfg Config, st store.Store, idx *vectorindex.Index, sup *health.Supervisor, embReg *embeddings.Registry, backendReg *backend.Registry) *Core {
	cfg = cfg.withDefaults()
	return &Core{
		cfg:        cfg,
		store:      st,
		index:      idx,
		supervisor: sup,
		embeddings: embReg,
		backends:   backendReg,
		watchers:   make(map[string]*policy.Watcher),
		locks:      make(map[string]*pathLock),
		stopCh:     make(chan struct{}),
	}
}

// Start brings up the policy watcher for each configured namespace and
// starts the stale-lock reaper. The vector index and health supervisor are
// started separately by the caller (they're constructed outside Core and
// may be shared across more than one Core in tests), matching
// buildServer's pattern of starting catalog/retention as siblings of the
// server rather than children of it.
func (c *Core) Start(ctx context.Context) error {
	for _, ns := range c.cfg.Namespaces {
		w := policy.NewWatcher(c.store, ns, c.cfg.AdminGroupPattern, c.cfg.LegacyScopeFile)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start policy watcher ns=%s: %w", ns, err)
		}
		c.watchersMu.Lock()
		c.watchers[ns] = w
		c.watchersMu.Unlock()
	}
	go c.reapStaleLocks()
	log.Info().Strs("namespaces", c.cfg.Namespaces).Msg("🧠 core orchestrator started")
	return nil
}

// Shutdown stops the policy watchers and the lock reaper within the
// configured deadline. Draining the change-event bus and flushing pending
// index upserts is the index's and supervisor's own Close responsibility;
// Core only owns its own goroutines, matching the teacher's ShutdownFunc
// pattern of each component closing itself rather than Core reaching in.
func (c *Core) Shutdown(ctx context.Context) error {
	deadline := c.cfg.ShutdownTimeout
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	close(c.stopCh)

	c.watchersMu.RLock()
	watchers := make([]*policy.Watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.watchersMu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, w := range watchers {
			w.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown deadline exceeded: %w", ctx.Err())
	}
}

// SubscribeHealth exposes the health supervisor's live feed to the admin
// websocket handler in internal/api, without handing the API layer a
// direct reference to the supervisor itself.
func (c *Core) SubscribeHealth(bufferSize int) (string, <-chan health.Event) {
	return c.supervisor.Subscribe(bufferSize)
}

func (c *Core) UnsubscribeHealth(id string) {
	c.supervisor.Unsubscribe(id)
}

func (c *Core) tableFor(namespace string) *policy.Table {
	c.watchersMu.RLock()
	defer c.watchersMu.RUnlock()
	w, ok := c.watchers[namespace]
	if !ok {
		return policy.Build(nil, c.cfg.AdminGroupPattern)
	}
	return w.Table()
}

// withPathLock serializes mutations to one (namespace, kind, path) tuple,
// generalized from the teacher's simpler per-request locking into an
// explicit keyed mutex with stale-entry reaping (§5).
func (c *Core) withPathLock(namespace string, kind models.EntityKind, path string, fn func() error) error {
	key := namespace + "/" + string(kind) + "/" + path

	c.locksMu.Lock()
	pl, ok := c.locks[key]
	if !ok {
		pl = &pathLock{}
		c.locks[key] = pl
	}
	c.locksMu.Unlock()

	pl.mu.Lock()
	pl.lastUsed = time.Now()
	defer pl.mu.Unlock()

	return fn()
}

// reapStaleLocks drops keyed mutexes that haven't been touched in a while
// so long-lived servers don't accumulate one goroutine-free mutex per
// entity path ever registered, including deleted ones.
func (c *Core) reapStaleLocks() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-30 * time.Minute)
			c.locksMu.Lock()
			for key, pl := range c.locks {
				if pl.mu.TryLock() {
					stale := pl.lastUsed.Before(cutoff)
					pl.mu.Unlock()
					if stale {
						delete(c.locks, key)
					}
				}
			}
			c.locksMu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func toPolicyIdentity(id contracts.Identity) policy.Identity {
	return policy.Identity{Subject: id.Subject, Groups: id.Groups}
}

func namespaceOf(c *Core, id contracts.Identity, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id.Namespace != "" {
		return id.Namespace
	}
	return c.cfg.DefaultNamespace
}
