package policy

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Watcher holds the read-mostly, copy-on-write Table for one namespace and
// keeps it current by reloading from B on every scope-record change event,
// plus — when configured — watching a legacy group-centric scope file on
// disk for operators migrating off the older format.
type Watcher struct {
	namespace         string
	adminGroupPattern string
	legacyFilePath    string

	st      store.Store
	current atomic.Pointer[Table]

	subID   string
	changes <-chan models.ChangeEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewWatcher(st store.Store, namespace, adminGroupPattern, legacyFilePath string) *Watcher {
	return &Watcher{
		namespace:         namespace,
		adminGroupPattern: adminGroupPattern,
		legacyFilePath:    legacyFilePath,
		st:                st,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start loads the initial table, subscribes to B's change events, and — if
// a legacy scope file is configured — starts an fsnotify watch on it.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.reload(ctx); err != nil {
		return err
	}

	id, ch := w.st.Subscribe(64)
	w.subID = id
	w.changes = ch
	go w.consumeLoop(ctx)

	if w.legacyFilePath != "" {
		go w.watchLegacyFile(ctx)
	}
	return nil
}

func (w *Watcher) Table() *Table {
	return w.current.Load()
}

func (w *Watcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	w.st.Unsubscribe(w.subID)
	return nil
}

func (w *Watcher) consumeLoop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case _, ok := <-w.changes:
			if !ok {
				return
			}
			// Every change event triggers a reload rather than a targeted
			// patch: the policy engine reads a handful of scope records per
			// namespace, so a full rebuild is cheap and avoids tracking
			// incremental diffs against an immutable Table.
			if err := w.reload(ctx); err != nil {
				log.Error().Err(err).Str("namespace", w.namespace).Msg("🚫 failed to reload scope table")
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context) error {
	scopes, err := w.st.ListScopes(ctx, w.namespace)
	if err != nil {
		return err
	}
	if w.legacyFilePath != "" {
		legacy, err := loadLegacyScopeFile(w.legacyFilePath)
		if err != nil {
			log.Warn().Err(err).Str("path", w.legacyFilePath).Msg("⚠️ legacy scope file unreadable, ignoring")
		} else {
			scopes = append(scopes, legacy...)
		}
	}
	w.current.Store(Build(scopes, w.adminGroupPattern))
	return nil
}

func (w *Watcher) watchLegacyFile(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("🚫 could not start legacy scope file watcher")
		return
	}
	defer fw.Close()
	if err := fw.Add(w.legacyFilePath); err != nil {
		log.Error().Err(err).Str("path", w.legacyFilePath).Msg("🚫 could not watch legacy scope file")
		return
	}
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := w.reload(ctx); err != nil {
					log.Error().Err(err).Msg("🚫 failed to reload scope table after legacy file change")
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("⚠️ legacy scope file watcher error")
		}
	}
}

// legacyGroupFile is the older, group-centric scope shape: a flat mapping
// of group name to the servers/methods/tools it may use, rather than the
// canonical permission-centric models.Scope shape. Supported as an opt-in
// compatibility bridge (§9 Open Question, resolved: support it).
type legacyGroupFile struct {
	Groups map[string]struct {
		Servers []string `yaml:"servers"`
		Methods []string `yaml:"methods"`
		Tools   []string `yaml:"tools"`
	} `yaml:"groups"`
}

// loadLegacyScopeFile is a pure translation function: given the legacy
// group-centric YAML shape, it produces canonical permission-centric
// models.Scope records, one per group, with one Permission per declared
// server.
func loadLegacyScopeFile(path string) ([]*models.Scope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var legacy legacyGroupFile
	if err := yaml.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}

	out := make([]*models.Scope, 0, len(legacy.Groups))
	for group, g := range legacy.Groups {
		perms := make([]models.Permission, 0, len(g.Servers))
		for _, server := range g.Servers {
			perms = append(perms, models.Permission{Server: server, Methods: g.Methods, Tools: g.Tools})
		}
		out = append(out, &models.Scope{Name: group, Permissions: perms})
	}
	return out, nil
}
